package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port        int    `yaml:"port" validate:"min=1,max=65535"`
		Host        string `yaml:"host"`
		FrontendDir string `yaml:"frontend_dir"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
		Format string `yaml:"format" validate:"oneof=console json"`
	} `yaml:"log"`

	Collaborator struct {
		Python        string   `yaml:"python" validate:"required"`
		Script        string   `yaml:"script" validate:"required"`
		WorkDir       string   `yaml:"work_dir"`
		DefaultModel  string   `yaml:"default_model" validate:"required"`
		DefaultDevice string   `yaml:"default_device" validate:"oneof=cpu cuda"`
		CUDAProbe     []string `yaml:"cuda_probe"`
	} `yaml:"collaborator"`

	Storage struct {
		UploadDir string `yaml:"upload_dir" validate:"required"`
		OutputDir string `yaml:"output_dir" validate:"required"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Progress struct {
		IntervalSeconds int `yaml:"interval_seconds" validate:"min=1"`
	} `yaml:"progress"`

	Cleanup struct {
		IntervalMinutes  int `yaml:"interval_minutes" validate:"min=1"`
		RetentionMinutes int `yaml:"retention_minutes" validate:"min=1"`
	} `yaml:"cleanup"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb" validate:"min=1"`
	} `yaml:"limits"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 5000
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.FrontendDir = "frontend"
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.Collaborator.Python = "python"
	cfg.Collaborator.Script = "whisper-diarization/diarize_simple.py"
	cfg.Collaborator.WorkDir = "."
	cfg.Collaborator.DefaultModel = "base"
	cfg.Collaborator.DefaultDevice = "cpu"
	cfg.Storage.UploadDir = "uploads"
	cfg.Storage.OutputDir = "outputs"
	cfg.Storage.Database = "data/jobs.db"
	cfg.Progress.IntervalSeconds = 5
	cfg.Cleanup.IntervalMinutes = 30
	cfg.Cleanup.RetentionMinutes = 60
	cfg.Limits.MaxFileSizeMB = 500
	cfg.GoogleDrive.CredentialsFile = "config/credentials.json"
	cfg.GoogleDrive.TokenFile = "config/token.json"
	cfg.GoogleDrive.FolderName = "Transcripts"
	return cfg
}

// Load reads the YAML file at path over the defaults, applies .env and
// environment overrides, and validates the result. A missing file is not
// an error.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads the given .env files, skipping missing ones. Variables
// already set in the environment win.
func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	setString(&c.Server.Host, "HOST")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Collaborator.Python, "WHISPER_PYTHON")
	setString(&c.Collaborator.Script, "DIARIZE_SCRIPT")
	setString(&c.Storage.UploadDir, "UPLOAD_DIR")
	setString(&c.Storage.OutputDir, "OUTPUT_DIR")
	setString(&c.Storage.Database, "DATABASE_PATH")
	c.Log.Level = strings.ToLower(c.Log.Level)
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProgressInterval is the pause between progress checkpoints
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Progress.IntervalSeconds) * time.Second
}

// CleanupInterval is the pause between janitor cycles
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

// Retention is how long a job is kept after submission
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Cleanup.RetentionMinutes) * time.Minute
}

// multipartOverhead leaves room for form fields and part headers so an
// oversized file reaches the upload handler instead of the body limit
const multipartOverhead = 1024 * 1024

// MaxFileSize is the largest accepted audio file in bytes
func (c *Config) MaxFileSize() int64 {
	return int64(c.Limits.MaxFileSizeMB) * 1024 * 1024
}

// BodyLimit is the maximum request body size in bytes
func (c *Config) BodyLimit() int {
	return int(c.MaxFileSize()) + multipartOverhead
}
