package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/storage"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/transcription"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// OutcomeKind tells a real transcript apart from the placeholder
type OutcomeKind string

const (
	OutcomeTranscribed OutcomeKind = "transcribed"
	OutcomeFallback    OutcomeKind = "fallback"
)

// Outcome is the final result of an execution unit, computed once
type Outcome struct {
	Kind     OutcomeKind
	Segments []types.Segment
	// Warning is the user-visible diagnostic; empty on a clean success
	Warning string
	// Cause is the underlying failure, for logs only
	Cause error
	// TranscriptPath is set once the transcript file is written
	TranscriptPath string
}

// Fallback reports whether the placeholder transcript was used
func (o Outcome) Fallback() bool {
	return o.Kind == OutcomeFallback
}

// Materializer turns a collaborator run into an Outcome and persists it
type Materializer struct {
	storage *storage.LocalStorage
	now     func() time.Time
	log     zerolog.Logger
}

// NewMaterializer creates a materializer writing into local storage
func NewMaterializer(local *storage.LocalStorage, logger zerolog.Logger) *Materializer {
	return &Materializer{
		storage: local,
		now:     time.Now,
		log:     logger.With().Str("component", "materializer").Logger(),
	}
}

// Resolve reads the collaborator artifact when the run succeeded and falls
// back to the placeholder otherwise. The raw artifact is removed either way.
func (m *Materializer) Resolve(job Job, inv transcription.Invocation, runErr error) Outcome {
	defer func() {
		if err := m.storage.RemoveFile(inv.ArtifactPath); err != nil {
			m.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove diarization artifact")
		}
	}()

	if runErr != nil {
		return m.Fallback(job, runErr)
	}

	segments, err := transcription.ReadArtifact(inv.ArtifactPath)
	if err != nil {
		return m.Fallback(job, err)
	}

	return Outcome{
		Kind:     OutcomeTranscribed,
		Segments: segments,
	}
}

// Fallback builds the placeholder outcome for cause
func (m *Materializer) Fallback(job Job, cause error) Outcome {
	if cause == nil {
		cause = errors.New("processing failed")
	}

	warning := cause.Error()
	var execErr *transcription.ExecError
	if errors.As(cause, &execErr) {
		warning = execErr.Warning()
	}

	m.log.Warn().
		Err(cause).
		Str("job_id", job.ID).
		Str("filename", job.Filename).
		Msg("Transcription failed, using fallback transcript")

	return Outcome{
		Kind:     OutcomeFallback,
		Segments: transcription.FallbackSegments(job.Filename),
		Warning:  transcription.Truncate(warning, transcription.MaxWarningLength),
		Cause:    cause,
	}
}

// Persist writes the transcript file for outcome. A write failure does not
// change the result; it is reported through the warning.
func (m *Materializer) Persist(job Job, outcome Outcome) Outcome {
	path, err := m.storage.SaveTranscript(storage.TranscriptHeader{
		JobID:       job.ID,
		Filename:    job.Filename,
		Options:     job.Options,
		GeneratedAt: m.now(),
	}, outcome.Segments)
	if err != nil {
		m.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save transcript")
		warning := fmt.Sprintf("transcript file could not be saved: %v", err)
		if outcome.Warning != "" {
			warning = outcome.Warning + "\n" + warning
		}
		outcome.Warning = transcription.Truncate(warning, transcription.MaxWarningLength)
		return outcome
	}

	outcome.TranscriptPath = path
	return outcome
}

// Discard removes the uploaded input file
func (m *Materializer) Discard(jobID, uploadPath string) {
	if err := m.storage.RemoveFile(uploadPath); err != nil {
		m.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to cleanup upload")
	}
}
