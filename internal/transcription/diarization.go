package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/whisper-diarization-server/internal/types"
)

// Failure stages reported by ExecError
const (
	StageInput    = "input"
	StageSpawn    = "spawn"
	StageExit     = "exit"
	StageArtifact = "artifact"
)

// Warnings recorded on a job when a CUDA request is rewritten to CPU
const (
	DeviceWarning = "CUDA not available; using CPU."
	TorchWarning  = "Torch not available; using CPU."
)

const defaultModel = "base"

// Request describes one collaborator run
type Request struct {
	AudioPath string
	Model     string
	Device    string
	Language  string
	HFToken   string
}

// RequestFromOptions maps caller options onto a Request for audioPath
func RequestFromOptions(audioPath string, opts types.Options) Request {
	return Request{
		AudioPath: audioPath,
		Model:     opts.String(types.OptionWhisperModel),
		Device:    opts.String(types.OptionDevice),
		Language:  opts.String(types.OptionLanguage),
		HFToken:   opts.String(types.OptionHFToken),
	}
}

// Invocation is a fully resolved collaborator command line
type Invocation struct {
	Command      string
	Args         []string
	Dir          string
	AudioPath    string
	ArtifactPath string
	Device       string
	// Warning is non-empty when the requested device was downgraded
	Warning string
}

// Result captures one finished collaborator process
type Result struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	ArtifactPath string
	Duration     time.Duration
}

// ExecError is the single failure signal of a collaborator run
type ExecError struct {
	Stage    string
	ExitCode int
	// Stderr is truncated to MaxWarningLength characters
	Stderr string
	Err    error
}

// Error formats the failure for logs
func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("diarization %s failed", e.Stage)
	if e.Stage == StageExit {
		msg = fmt.Sprintf("%s (exit=%d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Warning is the user-visible text for this failure: the captured stderr
// when there is any, otherwise the error message.
func (e *ExecError) Warning() string {
	if strings.TrimSpace(e.Stderr) != "" {
		return Truncate(e.Stderr, MaxWarningLength)
	}
	return Truncate(e.Error(), MaxWarningLength)
}

// RunnerConfig locates the collaborator program
type RunnerConfig struct {
	Python       string
	Script       string
	WorkDir      string
	OutputDir    string
	DefaultModel string
	// DefaultDevice is used when a request names no device
	DefaultDevice string
}

// DiarizeRunner launches the whisper-diarization script as a subprocess
type DiarizeRunner struct {
	cfg    RunnerConfig
	probe  DeviceProbe
	runner commandRunner
	stat   func(name string) (os.FileInfo, error)
	log    zerolog.Logger
}

// NewDiarizeRunner creates a runner for the configured collaborator
func NewDiarizeRunner(cfg RunnerConfig, probe DeviceProbe, logger zerolog.Logger) *DiarizeRunner {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	if probe == nil {
		probe = StaticProbe(false)
	}
	return &DiarizeRunner{
		cfg:    cfg,
		probe:  probe,
		runner: &execRunner{},
		stat:   os.Stat,
		log:    logger.With().Str("component", "diarizer").Logger(),
	}
}

// Prepare validates the input and resolves the command line. Device and
// diarization policies are applied here, before anything is launched.
func (d *DiarizeRunner) Prepare(ctx context.Context, req Request) (Invocation, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Invocation{}, &ExecError{Stage: StageInput, Err: errors.New("audio path is required")}
	}
	info, err := d.stat(req.AudioPath)
	if err != nil {
		return Invocation{}, &ExecError{Stage: StageInput, Err: fmt.Errorf("cannot access audio file: %w", err)}
	}
	if info.Size() == 0 {
		return Invocation{}, &ExecError{Stage: StageInput, Err: fmt.Errorf("audio file is empty: %s", req.AudioPath)}
	}

	audioPath, err := filepath.Abs(req.AudioPath)
	if err != nil {
		return Invocation{}, &ExecError{Stage: StageInput, Err: fmt.Errorf("failed to get absolute path: %w", err)}
	}
	outputDir, err := filepath.Abs(d.cfg.OutputDir)
	if err != nil {
		return Invocation{}, &ExecError{Stage: StageInput, Err: fmt.Errorf("failed to get absolute output dir: %w", err)}
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = d.cfg.DefaultModel
	}

	inv := Invocation{
		Command:      d.cfg.Python,
		Dir:          d.cfg.WorkDir,
		AudioPath:    audioPath,
		ArtifactPath: ArtifactPath(outputDir, audioPath),
		Device:       normalizeDevice(req.Device, d.cfg.DefaultDevice),
	}
	if inv.Device == types.DeviceCUDA {
		if status := d.probe.ProbeCUDA(ctx); status != CUDAReady {
			inv.Device = types.DeviceCPU
			inv.Warning = status.Warning()
		}
	}

	inv.Args = buildDiarizeArgs(d.cfg.Script, audioPath, model, inv.Device, outputDir, req.Language, req.HFToken)
	return inv, nil
}

// Run executes a prepared invocation and waits for it to exit. It does not
// retry. A nil error means exit status 0 and the artifact exists.
func (d *DiarizeRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	d.log.Debug().
		Str("command", inv.Command).
		Strs("args", redactArgs(inv.Args)).
		Str("dir", inv.Dir).
		Msg("Starting diarization")

	start := time.Now()
	cmdResult, runErr := d.runner.Run(ctx, inv.Dir, inv.Command, inv.Args...)
	result := Result{
		Stdout:       cmdResult.Stdout,
		Stderr:       cmdResult.Stderr,
		ExitCode:     cmdResult.ExitCode,
		ArtifactPath: inv.ArtifactPath,
		Duration:     time.Since(start),
	}

	if runErr != nil {
		stage := StageSpawn
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) || cmdResult.ExitCode > 0 {
			stage = StageExit
		}
		return result, &ExecError{
			Stage:    stage,
			ExitCode: cmdResult.ExitCode,
			Stderr:   Truncate(cmdResult.Stderr, MaxWarningLength),
			Err:      runErr,
		}
	}

	if _, err := d.stat(inv.ArtifactPath); err != nil {
		return result, &ExecError{
			Stage:  StageArtifact,
			Stderr: Truncate(cmdResult.Stderr, MaxWarningLength),
			Err:    fmt.Errorf("diarization output not found: %s", filepath.Base(inv.ArtifactPath)),
		}
	}

	return result, nil
}

// normalizeDevice maps anything other than "cuda" to "cpu"
func normalizeDevice(raw, fallback string) string {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	if strings.EqualFold(strings.TrimSpace(raw), types.DeviceCUDA) {
		return types.DeviceCUDA
	}
	return types.DeviceCPU
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildDiarizeArgs builds the diarize_simple.py command line. Diarization is
// skipped unless a Hugging Face token is supplied.
func buildDiarizeArgs(script, audioPath, model, device, outputDir, language, hfToken string) []string {
	args := []string{
		script,
		"--audio-files", audioPath,
		"--whisper-model", model,
		"--device", device,
		"--output-dir", outputDir,
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "--language", lang)
	}

	if token := strings.TrimSpace(hfToken); token != "" {
		args = append(args, "--hf-token", token)
	} else {
		args = append(args, "--no-diarization")
	}

	return args
}

// redactArgs masks the Hugging Face token for logging
func redactArgs(args []string) []string {
	out := append([]string(nil), args...)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--hf-token" {
			out[i+1] = "***"
		}
	}
	return out
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}
