package jobs

import (
	"errors"
	"time"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

var (
	// ErrJobNotFound is returned for unknown job identifiers
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job whose ID is taken
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotCompleted is returned when a result is requested too early
	ErrJobNotCompleted = errors.New("job not completed")
	// ErrNoFile is returned when a submission carries no file
	ErrNoFile = errors.New("no audio file provided")
	// ErrInvalidFileType is returned for extensions the collaborator cannot read
	ErrInvalidFileType = errors.New("invalid file type")
)

// Job is the lifecycle record of one transcription request
type Job struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	Step      string          `json:"step"`
	Filename  string          `json:"filename"`
	Options   types.Options   `json:"options"`
	CreatedAt time.Time       `json:"created_at"`
	Warning   string          `json:"warning,omitempty"`
	Result    []types.Segment `json:"result,omitempty"`
}

// NewJob creates a job in the processing state
func NewJob(id, filename string, options types.Options, createdAt time.Time) Job {
	if options == nil {
		options = types.Options{}
	}
	return Job{
		ID:        id,
		Status:    types.StatusProcessing,
		Progress:  0,
		Step:      types.StepInitializing,
		Filename:  filename,
		Options:   options,
		CreatedAt: createdAt,
	}
}

// Completed reports whether the job reached its terminal state
func (j Job) Completed() bool {
	return j.Status == types.StatusCompleted
}

// Redacted returns a copy safe to send to clients
func (j Job) Redacted() Job {
	j.Options = j.Options.Redacted()
	return j
}
