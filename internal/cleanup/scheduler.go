package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/jobs"
)

// JobStore is the part of the job store the janitor needs
type JobStore interface {
	Snapshot() []jobs.Job
	Delete(id string) bool
}

// ArtifactStore removes a job's persisted transcript
type ArtifactStore interface {
	RemoveTranscript(jobID string) (bool, error)
}

// HistoryStore removes a job's history row
type HistoryStore interface {
	DeleteJob(jobID string) error
}

// Scheduler evicts jobs older than the retention window together with their
// transcripts, and sweeps orphaned files left in the job directories.
type Scheduler struct {
	store     JobStore
	artifacts ArtifactStore
	history   HistoryStore
	dirs      []string
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a new cleanup scheduler. history may be nil. dirs are
// swept for files named <job_id>_... that belong to no live job.
func NewScheduler(
	store JobStore,
	artifacts ArtifactStore,
	history HistoryStore,
	interval, retention time.Duration,
	logger zerolog.Logger,
	dirs ...string,
) *Scheduler {
	return &Scheduler{
		store:     store,
		artifacts: artifacts,
		history:   history,
		dirs:      dirs,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		log:       logger.With().Str("component", "janitor").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the cleanup scheduler
func (s *Scheduler) Start() {
	// Files left behind by a previous process have no job record
	s.log.Info().Msg("Running initial orphaned file cleanup...")
	s.cleanOldFiles(s.liveIDs())

	ticker := time.NewTicker(s.interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.RunOnce()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	s.log.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("Cleanup scheduler started")
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.log.Info().Msg("Cleanup scheduler stopped")
	})
}

// RunOnce performs one cleanup cycle and returns the number of evicted jobs
func (s *Scheduler) RunOnce() int {
	evicted := s.evictJobs()
	s.cleanOldFiles(s.liveIDs())
	return evicted
}

// evictJobs removes every job created before the retention cutoff. The
// transcript goes first so a download never outlives its record.
func (s *Scheduler) evictJobs() int {
	cutoff := s.now().Add(-s.retention)
	evicted := 0

	for _, job := range s.store.Snapshot() {
		if !job.CreatedAt.Before(cutoff) {
			continue
		}

		if _, err := s.artifacts.RemoveTranscript(job.ID); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to delete transcript")
		}
		if s.history != nil {
			if err := s.history.DeleteJob(job.ID); err != nil {
				s.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to delete job history")
			}
		}
		if s.store.Delete(job.ID) {
			evicted++
			s.log.Debug().
				Str("job_id", job.ID).
				Dur("age", s.now().Sub(job.CreatedAt).Round(time.Second)).
				Msg("Evicted expired job")
		}
	}

	if evicted > 0 {
		s.log.Info().Int("jobs", evicted).Msg("Expired jobs evicted")
	}
	return evicted
}

func (s *Scheduler) liveIDs() map[string]struct{} {
	live := make(map[string]struct{})
	for _, job := range s.store.Snapshot() {
		live[job.ID] = struct{}{}
	}
	return live
}

// cleanOldFiles removes job files older than the retention window whose job
// is no longer in the store
func (s *Scheduler) cleanOldFiles(live map[string]struct{}) {
	now := s.now()

	var deletedCount int
	var deletedSize int64

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				s.log.Warn().Err(err).Str("dir", dir).Msg("Error during cleanup")
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			jobID, _, ok := strings.Cut(entry.Name(), "_")
			if !ok {
				continue
			}
			if _, running := live[jobID]; running {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue
			}
			age := now.Sub(info.ModTime())
			if age <= s.retention {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("Failed to delete old file")
				continue
			}
			deletedCount++
			deletedSize += info.Size()
			s.log.Debug().
				Str("file", entry.Name()).
				Dur("age", age.Round(time.Minute)).
				Str("size", humanize.Bytes(uint64(info.Size()))).
				Msg("Deleted orphaned file")
		}
	}

	if deletedCount > 0 {
		s.log.Info().
			Int("files", deletedCount).
			Str("freed", humanize.Bytes(uint64(deletedSize))).
			Msg("Cleanup complete")
	}
}
