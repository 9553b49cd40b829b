package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// JobSummary is one finished job as recorded in the history table
type JobSummary struct {
	JobID          string        `json:"job_id"`
	Filename       string        `json:"filename"`
	Fallback       bool          `json:"fallback"`
	Warning        string        `json:"warning,omitempty"`
	SegmentCount   int           `json:"segment_count"`
	TranscriptPath string        `json:"transcript_path"`
	Options        types.Options `json:"options"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// MetadataDB handles SQLite database operations
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB creates a new metadata database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		warning TEXT,
		segment_count INTEGER NOT NULL,
		transcript_path TEXT,
		options TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// SaveJob records a finished job
func (mdb *MetadataDB) SaveJob(s JobSummary) error {
	opts, err := json.Marshal(s.Options.Redacted())
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
	INSERT INTO jobs (job_id, filename, fallback, warning, segment_count, transcript_path, options, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = mdb.db.Exec(query, s.JobID, s.Filename, s.Fallback, s.Warning, s.SegmentCount,
		s.TranscriptPath, string(opts), s.CreatedAt.UTC(), s.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save job metadata: %w", err)
	}

	return nil
}

// GetJob retrieves a job summary by job ID
func (mdb *MetadataDB) GetJob(jobID string) (JobSummary, error) {
	query := `
	SELECT job_id, filename, fallback, warning, segment_count, transcript_path, options, created_at, completed_at
	FROM jobs WHERE job_id = ?
	`

	s, err := scanJob(mdb.db.QueryRow(query, jobID))
	if err != nil {
		return JobSummary{}, fmt.Errorf("failed to get job: %w", err)
	}
	return s, nil
}

// ListJobs returns the most recent jobs first
func (mdb *MetadataDB) ListJobs(limit int) ([]JobSummary, error) {
	query := `
	SELECT job_id, filename, fallback, warning, segment_count, transcript_path, options, created_at, completed_at
	FROM jobs ORDER BY created_at DESC LIMIT ?
	`

	rows, err := mdb.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]JobSummary, 0)
	for rows.Next() {
		s, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, s)
	}

	return jobs, rows.Err()
}

// DeleteJob removes a job's history row
func (mdb *MetadataDB) DeleteJob(jobID string) error {
	if _, err := mdb.db.Exec(`DELETE FROM jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete job metadata: %w", err)
	}
	return nil
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (JobSummary, error) {
	var (
		s                      JobSummary
		warning, path, opts    sql.NullString
		createdAt, completedAt time.Time
	)

	err := row.Scan(&s.JobID, &s.Filename, &s.Fallback, &warning, &s.SegmentCount,
		&path, &opts, &createdAt, &completedAt)
	if err != nil {
		return JobSummary{}, err
	}

	s.Warning = warning.String
	s.TranscriptPath = path.String
	s.CreatedAt = createdAt
	s.CompletedAt = completedAt
	if opts.Valid && opts.String != "" {
		_ = json.Unmarshal([]byte(opts.String), &s.Options)
	}
	return s, nil
}
