package cleanup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/jobs"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/storage"
)

type fakeHistory struct {
	deleted []string
}

func (h *fakeHistory) DeleteJob(jobID string) error {
	h.deleted = append(h.deleted, jobID)
	return nil
}

func touch(t *testing.T, path string, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// TestRunOnceEvictsExpiredJobs checks retention-based eviction of records and transcripts.
func TestRunOnceEvictsExpiredJobs(t *testing.T) {
	root := t.TempDir()
	local := storage.NewLocalStorage(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"))
	if err := local.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := jobs.NewStore()
	_ = store.Create(jobs.NewJob("expired", "a.wav", nil, now.Add(-2*time.Hour)))
	_ = store.Create(jobs.NewJob("fresh", "b.wav", nil, now.Add(-10*time.Minute)))
	for _, id := range []string{"expired", "fresh"} {
		if _, err := local.SaveTranscript(storage.TranscriptHeader{JobID: id}, nil); err != nil {
			t.Fatalf("SaveTranscript(%s) error = %v", id, err)
		}
	}

	history := &fakeHistory{}
	s := NewScheduler(store, local, history, 30*time.Minute, time.Hour, zerolog.Nop(), local.UploadDir(), local.OutputDir())
	s.now = func() time.Time { return now }

	if got := s.RunOnce(); got != 1 {
		t.Fatalf("RunOnce() = %d, want 1", got)
	}

	if _, err := store.Get("expired"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expired job still present: %v", err)
	}
	if _, err := store.Get("fresh"); err != nil {
		t.Fatalf("fresh job removed: %v", err)
	}
	if exists(local.TranscriptPath("expired")) {
		t.Fatal("expired transcript should be deleted")
	}
	if !exists(local.TranscriptPath("fresh")) {
		t.Fatal("fresh transcript should be kept")
	}
	if len(history.deleted) != 1 || history.deleted[0] != "expired" {
		t.Fatalf("history deletes = %v", history.deleted)
	}
}

// TestRunOnceSweepsOrphanedFiles checks only old files of dead jobs are removed.
func TestRunOnceSweepsOrphanedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	store := jobs.NewStore()
	_ = store.Create(jobs.NewJob("live", "a.wav", nil, now))

	oldOrphan := filepath.Join(dir, "gone_talk.wav")
	oldLive := filepath.Join(dir, "live_talk.wav")
	newOrphan := filepath.Join(dir, "recent_talk.wav")
	unrelated := filepath.Join(dir, "README")
	touch(t, oldOrphan, now.Add(-3*time.Hour))
	touch(t, oldLive, now.Add(-3*time.Hour))
	touch(t, newOrphan, now.Add(-time.Minute))
	touch(t, unrelated, now.Add(-3*time.Hour))

	s := NewScheduler(store, storage.NewLocalStorage(dir, dir), nil, time.Minute, time.Hour, zerolog.Nop(), dir, filepath.Join(dir, "missing"))
	s.RunOnce()

	if exists(oldOrphan) {
		t.Fatal("old orphaned file should be removed")
	}
	for _, path := range []string{oldLive, newOrphan, unrelated} {
		if !exists(path) {
			t.Fatalf("%s should be kept", filepath.Base(path))
		}
	}
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(jobs.NewStore(), storage.NewLocalStorage(t.TempDir(), t.TempDir()), nil, time.Millisecond, time.Hour, zerolog.Nop())
	s.Start()
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	s.Stop()
}
