package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// ErrTranscriptNotFound is returned when a job has no transcript on disk
var ErrTranscriptNotFound = errors.New("transcript not found")

const transcriptSuffix = "_transcript.txt"

// TranscriptHeader is the generation metadata written above the segments
type TranscriptHeader struct {
	JobID       string
	Filename    string
	Options     types.Options
	GeneratedAt time.Time
}

// LocalStorage owns the upload and output directories. Every file name is
// prefixed with its job ID, so jobs never share a file.
type LocalStorage struct {
	uploadDir string
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(uploadDir, outputDir string) *LocalStorage {
	return &LocalStorage{
		uploadDir: uploadDir,
		outputDir: outputDir,
	}
}

// EnsureDirs creates the upload and output directories
func (ls *LocalStorage) EnsureDirs() error {
	for _, dir := range []string{ls.uploadDir, ls.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// UploadDir returns the upload directory
func (ls *LocalStorage) UploadDir() string { return ls.uploadDir }

// OutputDir returns the output directory
func (ls *LocalStorage) OutputDir() string { return ls.outputDir }

// SaveUpload stores an uploaded file as <upload_dir>/<job_id>_<filename>
func (ls *LocalStorage) SaveUpload(jobID, filename string, src io.Reader) (string, error) {
	path := filepath.Join(ls.uploadDir, fmt.Sprintf("%s_%s", jobID, filename))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}

	return path, nil
}

// RemoveFile deletes path, ignoring files that are already gone
func (ls *LocalStorage) RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// TranscriptPath returns <output_dir>/<job_id>_transcript.txt
func (ls *LocalStorage) TranscriptPath(jobID string) string {
	return filepath.Join(ls.outputDir, jobID+transcriptSuffix)
}

// SaveTranscript writes the plain-text rendering of segments. The file is
// renamed into place so readers never observe a partial transcript.
func (ls *LocalStorage) SaveTranscript(header TranscriptHeader, segments []types.Segment) (string, error) {
	opts := header.Options
	if opts == nil {
		opts = types.Options{}
	}
	optsJSON, err := json.MarshalIndent(opts.Redacted(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal options: %w", err)
	}

	var b strings.Builder
	b.WriteString("Whisper Diarization Transcript\n")
	fmt.Fprintf(&b, "Generated: %s\n", header.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "File: %s\n", header.Filename)
	fmt.Fprintf(&b, "Options: %s\n", optsJSON)
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	for _, seg := range segments {
		fmt.Fprintf(&b, "[%s - %s] %s:\n", seg.StartTime, seg.EndTime, seg.Speaker)
		fmt.Fprintf(&b, "%s\n\n", seg.Text)
	}

	path := ls.TranscriptPath(header.JobID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	return path, nil
}

// OpenTranscript returns the transcript path for jobID if the file exists
func (ls *LocalStorage) OpenTranscript(jobID string) (string, error) {
	path := ls.TranscriptPath(jobID)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrTranscriptNotFound
		}
		return "", err
	}
	if info.IsDir() {
		return "", ErrTranscriptNotFound
	}
	return path, nil
}

// RemoveTranscript deletes the transcript for jobID and reports whether it existed
func (ls *LocalStorage) RemoveTranscript(jobID string) (bool, error) {
	err := os.Remove(ls.TranscriptPath(jobID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename reduces an uploaded name to a safe base name
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if len(name) > 100 {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:100-len(ext)] + ext
	}
	if name == "" {
		return "audio_file"
	}
	return name
}
