package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/storage"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/transcription"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// Runner prepares and executes collaborator invocations
type Runner interface {
	Prepare(ctx context.Context, req transcription.Request) (transcription.Invocation, error)
	Run(ctx context.Context, inv transcription.Invocation) (transcription.Result, error)
}

// Mirror copies finished transcripts to remote storage
type Mirror interface {
	Upload(ctx context.Context, jobID, path string) (string, error)
}

// History records finished jobs
type History interface {
	SaveJob(summary storage.JobSummary) error
}

// Upload is one client submission
type Upload struct {
	Filename string
	Content  io.Reader
	Options  types.Options
}

const mirrorAttempts = 3

// Orchestrator creates jobs and drives each one to completion on its own
// goroutine.
type Orchestrator struct {
	store        *Store
	runner       Runner
	estimator    *Estimator
	materializer *Materializer
	storage      *storage.LocalStorage
	mirror       Mirror
	history      History
	log          zerolog.Logger

	now   func() time.Time
	newID func() string
	sleep func(time.Duration)
	wg    sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. mirror and history may be nil.
func NewOrchestrator(
	store *Store,
	runner Runner,
	estimator *Estimator,
	local *storage.LocalStorage,
	mirror Mirror,
	history History,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		runner:       runner,
		estimator:    estimator,
		materializer: NewMaterializer(local, logger),
		storage:      local,
		mirror:       mirror,
		history:      history,
		log:          logger.With().Str("component", "orchestrator").Logger(),
		now:          time.Now,
		newID:        uuid.NewString,
		sleep:        time.Sleep,
	}
}

// Submit validates the upload, records a processing job and starts it in
// the background. The job is in the store before Submit returns.
func (o *Orchestrator) Submit(u Upload) (string, error) {
	if u.Content == nil || strings.TrimSpace(u.Filename) == "" {
		return "", ErrNoFile
	}
	if !transcription.ValidateAudioFormat(u.Filename) {
		return "", ErrInvalidFileType
	}

	jobID := o.newID()
	filename := storage.SanitizeFilename(u.Filename)

	uploadPath, err := o.storage.SaveUpload(jobID, filename, u.Content)
	if err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}

	options := make(types.Options, len(u.Options))
	for k, v := range u.Options {
		options[k] = v
	}

	job := NewJob(jobID, filename, options, o.now())
	if err := o.store.Create(job); err != nil {
		o.materializer.Discard(jobID, uploadPath)
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(job, uploadPath)
	}()

	o.log.Info().Str("job_id", jobID).Str("filename", filename).Msg("Job submitted")
	return jobID, nil
}

// GetStatus returns the current job record
func (o *Orchestrator) GetStatus(id string) (Job, error) {
	return o.store.Get(id)
}

// GetResult returns the transcript segments of a completed job
func (o *Orchestrator) GetResult(id string) ([]types.Segment, error) {
	job, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !job.Completed() {
		return nil, ErrJobNotCompleted
	}
	if job.Result == nil {
		return []types.Segment{}, nil
	}
	return job.Result, nil
}

// GetArtifact returns the transcript file path of a completed job
func (o *Orchestrator) GetArtifact(id string) (string, error) {
	job, err := o.store.Get(id)
	if err != nil {
		return "", err
	}
	if !job.Completed() {
		return "", ErrJobNotCompleted
	}
	return o.storage.OpenTranscript(id)
}

// Wait blocks until every started job has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// execute is the execution unit of one job. Every path ends in complete,
// and the upload is removed on every path.
func (o *Orchestrator) execute(job Job, uploadPath string) {
	logger := o.log.With().Str("job_id", job.ID).Logger()
	defer o.materializer.Discard(job.ID, uploadPath)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("stack", string(debug.Stack())).Msgf("PANIC processing job: %v", r)
			outcome := o.materializer.Fallback(job, fmt.Errorf("internal error: %v", r))
			outcome = o.materializer.Persist(job, outcome)
			o.complete(job.ID, outcome)
			o.archive(job, outcome, logger)
		}
	}()

	outcome := o.process(job, uploadPath, logger)
	outcome = o.materializer.Persist(job, outcome)
	o.complete(job.ID, outcome)

	if outcome.Fallback() {
		logger.Warn().Err(outcome.Cause).Msg("Job completed with fallback transcript")
	} else {
		logger.Info().Int("segments", len(outcome.Segments)).Msg("Job completed")
	}

	o.archive(job, outcome, logger)
}

// process runs the collaborator and resolves its outcome
func (o *Orchestrator) process(job Job, uploadPath string, logger zerolog.Logger) Outcome {
	ctx := context.Background()
	o.setStep(job.ID, 10, types.StepPreprocessing)

	inv, err := o.runner.Prepare(ctx, transcription.RequestFromOptions(uploadPath, job.Options))
	if err != nil {
		return o.materializer.Fallback(job, err)
	}
	if inv.Warning != "" {
		logger.Warn().Str("device", inv.Device).Msg(inv.Warning)
		o.store.Update(job.ID, func(j *Job) {
			j.Warning = inv.Warning
		})
	}

	o.setStep(job.ID, 30, types.StepTranscription)

	result, runErr := o.supervise(ctx, job.ID, inv)
	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Str("stdout", result.Stdout).
		Str("stderr", result.Stderr).
		Msg("Diarization process finished")

	return o.materializer.Resolve(job, inv, runErr)
}

// supervise runs the subprocess while the estimator advances progress. It
// returns only after both have stopped.
func (o *Orchestrator) supervise(ctx context.Context, jobID string, inv transcription.Invocation) (transcription.Result, error) {
	var (
		result transcription.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("diarization runner panic: %v", r)
			}
		}()
		result, runErr = o.runner.Run(ctx, inv)
	}()

	o.estimator.Track(jobID, done)
	<-done
	return result, runErr
}

// setStep raises progress and sets the step label while processing
func (o *Orchestrator) setStep(id string, progress int, step string) {
	o.store.Update(id, func(j *Job) {
		if j.Status != types.StatusProcessing {
			return
		}
		if progress > j.Progress {
			j.Progress = progress
		}
		j.Step = step
	})
}

// complete moves the job to its terminal state. Only the first call has
// any effect.
func (o *Orchestrator) complete(id string, outcome Outcome) {
	o.store.Update(id, func(j *Job) {
		if j.Status == types.StatusCompleted {
			return
		}
		j.Status = types.StatusCompleted
		j.Progress = 100
		j.Step = types.StepComplete
		if outcome.Fallback() {
			j.Step = types.StepFallback
		}
		if outcome.Warning != "" {
			j.Warning = outcome.Warning
		}
		j.Result = outcome.Segments
	})
}

// archive mirrors the transcript and records the job in history. Failures
// here are logged and never affect the job.
func (o *Orchestrator) archive(job Job, outcome Outcome, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("stack", string(debug.Stack())).Msgf("PANIC archiving job: %v", r)
		}
	}()

	if outcome.TranscriptPath != "" && o.mirror != nil {
		var (
			url string
			err error
		)
		for attempt := 1; attempt <= mirrorAttempts; attempt++ {
			url, err = o.mirror.Upload(context.Background(), job.ID, outcome.TranscriptPath)
			if err == nil {
				logger.Info().Str("url", url).Msg("Transcript mirrored to Google Drive")
				break
			}
			logger.Warn().Err(err).Msgf("Google Drive upload attempt %d/%d failed", attempt, mirrorAttempts)
			if attempt < mirrorAttempts {
				o.sleep(time.Duration(attempt*attempt) * time.Second)
			}
		}
	}

	if o.history == nil {
		return
	}
	final, err := o.store.Get(job.ID)
	if errors.Is(err, ErrJobNotFound) {
		return
	}
	err = o.history.SaveJob(storage.JobSummary{
		JobID:          job.ID,
		Filename:       job.Filename,
		Fallback:       outcome.Fallback(),
		Warning:        final.Warning,
		SegmentCount:   len(outcome.Segments),
		TranscriptPath: outcome.TranscriptPath,
		Options:        job.Options,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    o.now(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Database save failed")
	}
}
