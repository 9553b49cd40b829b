package jobs

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// Checkpoint is one synthetic progress milestone
type Checkpoint struct {
	Progress int
	Step     string
}

// DefaultSchedule is walked while the collaborator runs
var DefaultSchedule = []Checkpoint{
	{Progress: 50, Step: types.StepDiarization},
	{Progress: 80, Step: types.StepFinalizing},
	{Progress: 95, Step: types.StepGenerating},
}

// Estimator advances a job's progress on a fixed schedule while its
// subprocess is alive. It only estimates; it never reads the collaborator.
type Estimator struct {
	store    *Store
	interval time.Duration
	schedule []Checkpoint
	log      zerolog.Logger
}

// NewEstimator creates an estimator. Checkpoints at or above 100 are
// dropped; only completion sets 100.
func NewEstimator(store *Store, interval time.Duration, schedule []Checkpoint, logger zerolog.Logger) *Estimator {
	if schedule == nil {
		schedule = DefaultSchedule
	}
	filtered := make([]Checkpoint, 0, len(schedule))
	for _, cp := range schedule {
		if cp.Progress < 100 {
			filtered = append(filtered, cp)
		}
	}
	return &Estimator{
		store:    store,
		interval: interval,
		schedule: filtered,
		log:      logger.With().Str("component", "progress").Logger(),
	}
}

// Track walks the schedule for jobID until done is closed or the schedule
// runs out. It returns as soon as done is closed, so no estimator write can
// land after the caller starts finalizing the job.
func (e *Estimator) Track(jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for _, cp := range e.schedule {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		// The subprocess may have exited while we were waking up.
		select {
		case <-done:
			return
		default:
		}

		_, err := e.store.Update(jobID, func(j *Job) {
			if j.Status != types.StatusProcessing || j.Progress >= cp.Progress {
				return
			}
			j.Progress = cp.Progress
			j.Step = cp.Step
		})
		if err != nil {
			return
		}
		e.log.Debug().Str("job_id", jobID).Int("progress", cp.Progress).Msg(cp.Step)
	}
}
