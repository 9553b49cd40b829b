package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/jobs"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/storage"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// JobReader exposes job state to the API
type JobReader interface {
	GetStatus(id string) (jobs.Job, error)
	GetResult(id string) ([]types.Segment, error)
	GetArtifact(id string) (string, error)
}

// HistoryLister lists finished jobs
type HistoryLister interface {
	ListJobs(limit int) ([]storage.JobSummary, error)
}

// JobHandler serves job status, results and transcripts
type JobHandler struct {
	jobs    JobReader
	history HistoryLister
	log     zerolog.Logger
}

// NewJobHandler creates a job handler. history may be nil.
func NewJobHandler(reader JobReader, history HistoryLister, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		jobs:    reader,
		history: history,
		log:     logger.With().Str("component", "api").Logger(),
	}
}

// Status returns the job record with credentials masked
func (h *JobHandler) Status(c *fiber.Ctx) error {
	job, err := h.jobs.GetStatus(c.Params("job_id"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(job.Redacted())
}

// Result returns the transcript segments of a completed job
func (h *JobHandler) Result(c *fiber.Ctx) error {
	segments, err := h.jobs.GetResult(c.Params("job_id"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(segments)
}

// Download sends the transcript text file as an attachment
func (h *JobHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("job_id")
	path, err := h.jobs.GetArtifact(jobID)
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.Download(path, fmt.Sprintf("%s_transcript.txt", jobID))
}

// History lists recently finished jobs, newest first
func (h *JobHandler) History(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON([]storage.JobSummary{})
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid limit", "ERR_INVALID_LIMIT")
		}
		limit = min(n, maxHistoryLimit)
	}

	summaries, err := h.history.ListJobs(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list job history")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to list jobs", "ERR_HISTORY")
	}
	return c.JSON(summaries)
}

func (h *JobHandler) lookupError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Job not found", "ERR_NOT_FOUND")
	case errors.Is(err, jobs.ErrJobNotCompleted):
		return errorJSON(c, fiber.StatusBadRequest, "Job not completed", "ERR_NOT_COMPLETED")
	case errors.Is(err, storage.ErrTranscriptNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Output file not found", "ERR_OUTPUT_NOT_FOUND")
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("Job lookup failed")
		return errorJSON(c, fiber.StatusInternalServerError, "Internal error", "ERR_INTERNAL")
	}
}
