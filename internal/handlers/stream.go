package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/jobs"
)

const defaultStreamInterval = 500 * time.Millisecond

// StreamHandler pushes job status over a WebSocket until the job completes
type StreamHandler struct {
	jobs     JobReader
	interval time.Duration
	log      zerolog.Logger
}

// NewStreamHandler creates a new stream handler polling the store every interval
func NewStreamHandler(reader JobReader, interval time.Duration, logger zerolog.Logger) *StreamHandler {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &StreamHandler{
		jobs:     reader,
		interval: interval,
		log:      logger.With().Str("component", "stream").Logger(),
	}
}

// Upgrade rejects plain HTTP requests on WebSocket routes
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle sends the job record whenever its status, progress or step changes,
// and closes the connection after the completed record is sent.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Params("job_id")
	logger := h.log.With().Str("job_id", jobID).Logger()
	logger.Debug().Msg("Status stream opened")

	// Client messages are ignored; a read error means the peer went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last *jobs.Job
	for {
		job, err := h.jobs.GetStatus(jobID)
		if err != nil {
			msg := "Internal error"
			if errors.Is(err, jobs.ErrJobNotFound) {
				msg = "Job not found"
			}
			_ = c.WriteJSON(fiber.Map{"error": msg})
			return
		}

		if last == nil || changed(*last, job) {
			if err := c.WriteJSON(job.Redacted()); err != nil {
				logger.Debug().Err(err).Msg("Status stream write failed")
				return
			}
			last = &job
		}
		if job.Completed() {
			return
		}

		select {
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

func changed(prev, next jobs.Job) bool {
	return prev.Status != next.Status || prev.Progress != next.Progress || prev.Step != next.Step
}
