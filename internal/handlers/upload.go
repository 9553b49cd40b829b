package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/jobs"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// Submitter accepts new transcription jobs
type Submitter interface {
	Submit(u jobs.Upload) (string, error)
}

// UploadHandler handles file uploads
type UploadHandler struct {
	jobs      Submitter
	maxSizeMB int
	log       zerolog.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(submitter Submitter, maxSizeMB int, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		jobs:      submitter,
		maxSizeMB: maxSizeMB,
		log:       logger.With().Str("component", "upload").Logger(),
	}
}

// Handle processes the upload request
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("audio")
	if err != nil || file.Filename == "" {
		return errorJSON(c, fiber.StatusBadRequest, "No audio file provided", "ERR_NO_FILE")
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if h.maxSizeMB > 0 && file.Size > maxSize {
		return errorJSON(c, fiber.StatusBadRequest, fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB), "ERR_FILE_TOO_LARGE")
	}

	options, err := parseOptions(c.FormValue("options"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid options", "ERR_INVALID_OPTIONS")
	}

	src, err := file.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to open uploaded file")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to read upload", "ERR_SAVE_FAILED")
	}
	defer src.Close()

	jobID, err := h.jobs.Submit(jobs.Upload{
		Filename: file.Filename,
		Content:  src,
		Options:  options,
	})
	switch {
	case errors.Is(err, jobs.ErrNoFile):
		return errorJSON(c, fiber.StatusBadRequest, "No audio file provided", "ERR_NO_FILE")
	case errors.Is(err, jobs.ErrInvalidFileType):
		return errorJSON(c, fiber.StatusBadRequest, "Invalid file type", "ERR_INVALID_FORMAT")
	case err != nil:
		h.log.Error().Err(err).Str("filename", file.Filename).Msg("Failed to submit job")
		return errorJSON(c, fiber.StatusInternalServerError, err.Error(), "ERR_SUBMIT_FAILED")
	}

	return c.JSON(fiber.Map{"job_id": jobID})
}

// parseOptions decodes the JSON options form field. A missing field is an
// empty option set.
func parseOptions(raw string) (types.Options, error) {
	options := types.Options{}
	if strings.TrimSpace(raw) == "" {
		return options, nil
	}
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, err
	}
	if options == nil {
		options = types.Options{}
	}
	return options, nil
}

func errorJSON(c *fiber.Ctx, status int, msg, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}
