package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/cleanup"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/config"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/handlers"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/jobs"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/storage"
	"github.com/codebuildervaibhav/whisper-diarization-server/internal/transcription"
)

const (
	logBufferLines = 1000
	shutdownGrace  = 30 * time.Second
)

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath, ".env")
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	logBuffer := handlers.NewLogBuffer(logBufferLines)
	log := newLogger(cfg, logBuffer)
	log.Info().Str("config", *configPath).Msg("Initializing components...")

	localStorage := storage.NewLocalStorage(cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	if err := localStorage.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage directories")
	}

	// Job history (optional)
	var (
		db      *storage.MetadataDB
		history jobs.History
		lister  handlers.HistoryLister
		evictor cleanup.HistoryStore
	)
	if cfg.Storage.Database != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Database), 0o755); err != nil {
			log.Fatal().Err(err).Msg("Failed to create database directory")
		}
		db, err = storage.NewMetadataDB(cfg.Storage.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer db.Close()
		history, lister, evictor = db, db, db
	}

	// Google Drive mirror (optional - may fail if credentials not set up)
	var mirror jobs.Mirror
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err := storage.NewDriveClient(
			context.Background(),
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Warn().Err(err).Msg("Google Drive not available; transcripts will only be saved locally")
		} else {
			mirror = driveClient
			log.Info().Str("folder", cfg.GoogleDrive.FolderName).Msg("Google Drive integration enabled")
		}
	} else {
		log.Info().Msg("Google Drive credentials not found - saving locally only")
	}

	probe := transcription.NewCommandProbe(cfg.Collaborator.Python, cfg.Collaborator.CUDAProbe)
	runner := transcription.NewDiarizeRunner(transcription.RunnerConfig{
		Python:        cfg.Collaborator.Python,
		Script:        cfg.Collaborator.Script,
		WorkDir:       cfg.Collaborator.WorkDir,
		OutputDir:     cfg.Storage.OutputDir,
		DefaultModel:  cfg.Collaborator.DefaultModel,
		DefaultDevice: cfg.Collaborator.DefaultDevice,
	}, probe, log)

	store := jobs.NewStore()
	estimator := jobs.NewEstimator(store, cfg.ProgressInterval(), jobs.DefaultSchedule, log)
	orchestrator := jobs.NewOrchestrator(store, runner, estimator, localStorage, mirror, history, log)

	janitor := cleanup.NewScheduler(
		store,
		localStorage,
		evictor,
		cfg.CleanupInterval(),
		cfg.Retention(),
		log,
		localStorage.UploadDir(),
		localStorage.OutputDir(),
	)
	janitor.Start()

	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.BodyLimit(),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Output: io.MultiWriter(os.Stdout, logBuffer),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.Register(app, handlers.Routes{
		Upload: handlers.NewUploadHandler(orchestrator, cfg.Limits.MaxFileSizeMB, log),
		Jobs:   handlers.NewJobHandler(orchestrator, lister, log),
		Stream: handlers.NewStreamHandler(orchestrator, 0, log),
		Logs:   logBuffer,
	})

	if info, err := os.Stat(cfg.Server.FrontendDir); err == nil && info.IsDir() {
		app.Static("/", cfg.Server.FrontendDir)
	} else {
		log.Warn().Str("dir", cfg.Server.FrontendDir).Msg("Frontend directory not found; serving API only")
	}

	addr := cfg.Addr()
	log.Info().Str("addr", addr).Msg("Server starting")
	log.Info().Msg("Endpoints: POST /api/upload, GET /api/status/:job_id, GET /api/result/:job_id, " +
		"GET /api/download/:job_id, GET /api/jobs, GET /api/logs, GET /ws/status/:job_id, GET /health")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Server failed")
	}

	janitor.Stop()
	waitForJobs(orchestrator, log)
	log.Info().Msg("Server stopped")
}

// waitForJobs gives running jobs a bounded time to finish
func waitForJobs(o *jobs.Orchestrator, log zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		o.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn().Dur("grace", shutdownGrace).Msg("Jobs still running at shutdown")
	}
}

// newLogger builds the root logger. Every line is also written, uncolored,
// to buf for the logs endpoint.
func newLogger(cfg *config.Config, buf io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Log.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	tee := zerolog.ConsoleWriter{Out: buf, NoColor: true, TimeFormat: time.RFC3339}

	return zerolog.New(zerolog.MultiLevelWriter(out, tee)).
		Level(level).
		With().
		Timestamp().
		Logger()
}
