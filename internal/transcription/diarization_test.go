package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeRunner simulates command execution outcomes.
type fakeRunner struct {
	run func(ctx context.Context, dir, name string, args ...string) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, dir, name, args...)
}

func newTestRunner(t *testing.T, probe DeviceProbe, runner commandRunner) (*DiarizeRunner, string) {
	t.Helper()
	root := t.TempDir()
	outputDir := filepath.Join(root, "outputs")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	d := NewDiarizeRunner(RunnerConfig{
		Python:    "python-custom",
		Script:    "whisper-diarization/diarize_simple.py",
		WorkDir:   root,
		OutputDir: outputDir,
	}, probe, zerolog.Nop())
	d.runner = runner
	return d, root
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// TestPrepareBuildsDefaultInvocation checks model default, device and diarization gating.
func TestPrepareBuildsDefaultInvocation(t *testing.T) {
	d, root := newTestRunner(t, StaticProbe(false), &fakeRunner{})
	audio := filepath.Join(root, "uploads", "job_talk.wav")
	mustWriteFile(t, audio, "riff")

	inv, err := d.Prepare(context.Background(), Request{AudioPath: audio, Language: "auto"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if inv.Command != "python-custom" {
		t.Fatalf("command = %q", inv.Command)
	}
	if inv.Args[0] != "whisper-diarization/diarize_simple.py" {
		t.Fatalf("script arg = %q", inv.Args[0])
	}
	if got := argValue(inv.Args, "--whisper-model"); got != "base" {
		t.Fatalf("model = %q, want base", got)
	}
	if got := argValue(inv.Args, "--device"); got != "cpu" {
		t.Fatalf("device = %q, want cpu", got)
	}
	if !hasArg(inv.Args, "--no-diarization") {
		t.Fatalf("expected --no-diarization without token, args=%v", inv.Args)
	}
	if hasArg(inv.Args, "--language") {
		t.Fatalf("auto language should not pass --language, args=%v", inv.Args)
	}
	if !filepath.IsAbs(argValue(inv.Args, "--audio-files")) {
		t.Fatalf("audio path should be absolute: %v", inv.Args)
	}
	if filepath.Base(inv.ArtifactPath) != "job_talk.json" {
		t.Fatalf("artifact path = %q", inv.ArtifactPath)
	}
	if inv.Warning != "" {
		t.Fatalf("unexpected warning %q", inv.Warning)
	}
}

// TestPrepareDowngradesCUDA verifies the device rewrite happens before launch.
func TestPrepareDowngradesCUDA(t *testing.T) {
	d, root := newTestRunner(t, StaticProbe(false), &fakeRunner{})
	audio := filepath.Join(root, "a.mp3")
	mustWriteFile(t, audio, "id3")

	inv, err := d.Prepare(context.Background(), Request{AudioPath: audio, Device: "cuda"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if inv.Device != "cpu" || argValue(inv.Args, "--device") != "cpu" {
		t.Fatalf("device = %q args=%v, want cpu", inv.Device, inv.Args)
	}
	if inv.Warning != DeviceWarning {
		t.Fatalf("warning = %q", inv.Warning)
	}
}

// TestPrepareKeepsCUDAWhenAvailable checks no rewrite when the probe succeeds.
func TestPrepareKeepsCUDAWhenAvailable(t *testing.T) {
	d, root := newTestRunner(t, StaticProbe(true), &fakeRunner{})
	audio := filepath.Join(root, "a.flac")
	mustWriteFile(t, audio, "flac")

	inv, err := d.Prepare(context.Background(), Request{
		AudioPath: audio,
		Device:    "cuda",
		Model:     "small",
		Language:  "de",
		HFToken:   "hf_secret",
	})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if argValue(inv.Args, "--device") != "cuda" || inv.Warning != "" {
		t.Fatalf("device args=%v warning=%q", inv.Args, inv.Warning)
	}
	if argValue(inv.Args, "--whisper-model") != "small" {
		t.Fatalf("model args=%v", inv.Args)
	}
	if argValue(inv.Args, "--language") != "de" {
		t.Fatalf("language args=%v", inv.Args)
	}
	if hasArg(inv.Args, "--no-diarization") || argValue(inv.Args, "--hf-token") != "hf_secret" {
		t.Fatalf("token should enable diarization, args=%v", inv.Args)
	}
	if got := redactArgs(inv.Args); argValue(got, "--hf-token") != "***" {
		t.Fatalf("redacted args = %v", got)
	}
}

// TestPrepareRejectsMissingOrEmptyInput checks input validation.
func TestPrepareRejectsMissingOrEmptyInput(t *testing.T) {
	d, root := newTestRunner(t, nil, &fakeRunner{})
	empty := filepath.Join(root, "empty.wav")
	mustWriteFile(t, empty, "")

	for _, path := range []string{"", filepath.Join(root, "missing.wav"), empty} {
		_, err := d.Prepare(context.Background(), Request{AudioPath: path})
		var execErr *ExecError
		if !errors.As(err, &execErr) || execErr.Stage != StageInput {
			t.Fatalf("Prepare(%q) error = %v, want input ExecError", path, err)
		}
	}
}

// TestRunSuccess checks the happy path with an artifact on disk.
func TestRunSuccess(t *testing.T) {
	var gotDir string
	runner := &fakeRunner{
		run: func(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
			gotDir = dir
			out := argValue(args, "--output-dir")
			mustWriteFile(t, filepath.Join(out, "clip.json"), `[]`)
			return commandResult{Stdout: "done"}, nil
		},
	}
	d, root := newTestRunner(t, nil, runner)
	audio := filepath.Join(root, "clip.ogg")
	mustWriteFile(t, audio, "ogg")

	inv, err := d.Prepare(context.Background(), Request{AudioPath: audio})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	result, err := d.Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotDir != root {
		t.Fatalf("dir = %q, want %q", gotDir, root)
	}
	if result.Stdout != "done" || result.ArtifactPath != inv.ArtifactPath {
		t.Fatalf("result = %+v", result)
	}
}

// TestRunNonZeroExit checks stderr capture and truncation on failure.
func TestRunNonZeroExit(t *testing.T) {
	longErr := strings.Repeat("e", 5000)
	runner := &fakeRunner{
		run: func(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
			return commandResult{Stderr: longErr, ExitCode: 2}, errors.New("exit status 2")
		},
	}
	d, root := newTestRunner(t, nil, runner)
	audio := filepath.Join(root, "clip.wav")
	mustWriteFile(t, audio, "wav")

	inv, _ := d.Prepare(context.Background(), Request{AudioPath: audio})
	_, err := d.Run(context.Background(), inv)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecError", err)
	}
	if execErr.Stage != StageExit || execErr.ExitCode != 2 {
		t.Fatalf("stage=%s exit=%d", execErr.Stage, execErr.ExitCode)
	}
	if len(execErr.Warning()) != MaxWarningLength {
		t.Fatalf("warning length = %d, want %d", len(execErr.Warning()), MaxWarningLength)
	}
}

// TestRunSpawnFailure checks that a missing program is a spawn failure.
func TestRunSpawnFailure(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
			return commandResult{ExitCode: -1}, errors.New(`exec: "python-custom": executable file not found`)
		},
	}
	d, root := newTestRunner(t, nil, runner)
	audio := filepath.Join(root, "clip.wav")
	mustWriteFile(t, audio, "wav")

	inv, _ := d.Prepare(context.Background(), Request{AudioPath: audio})
	_, err := d.Run(context.Background(), inv)

	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Stage != StageSpawn {
		t.Fatalf("error = %v, want spawn ExecError", err)
	}
	if !strings.Contains(execErr.Warning(), "executable file not found") {
		t.Fatalf("warning = %q", execErr.Warning())
	}
}

// TestRunMissingArtifact treats exit 0 without output as failure.
func TestRunMissingArtifact(t *testing.T) {
	d, root := newTestRunner(t, nil, &fakeRunner{})
	audio := filepath.Join(root, "clip.wav")
	mustWriteFile(t, audio, "wav")

	inv, _ := d.Prepare(context.Background(), Request{AudioPath: audio})
	_, err := d.Run(context.Background(), inv)

	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Stage != StageArtifact {
		t.Fatalf("error = %v, want artifact ExecError", err)
	}
}

// TestCommandProbeCachesAnswer verifies the probe command runs once.
func TestCommandProbeCachesAnswer(t *testing.T) {
	calls := 0
	probe := NewCommandProbe("python3", nil)
	probe.runner = &fakeRunner{
		run: func(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
			calls++
			if name != "python3" || argValue(args, "-c") != torchCUDACheck {
				t.Fatalf("probe command = %s %v", name, args)
			}
			return commandResult{ExitCode: 1}, errors.New("exit status 1")
		},
	}

	for i := 0; i < 3; i++ {
		if got := probe.ProbeCUDA(context.Background()); got != CUDAMissing {
			t.Fatalf("ProbeCUDA() = %v, want CUDAMissing", got)
		}
	}
	if calls != 1 {
		t.Fatalf("probe calls = %d, want 1", calls)
	}
}

// TestCommandProbeExitCodes maps the check command's exit status to a device status.
func TestCommandProbeExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		err      error
		want     DeviceStatus
		warning  string
	}{
		{"cuda ready", 0, nil, CUDAReady, ""},
		{"no gpu", 1, errors.New("exit status 1"), CUDAMissing, DeviceWarning},
		{"torch import fails", 2, errors.New("exit status 2"), TorchMissing, TorchWarning},
		{"python not found", -1, errors.New("executable file not found"), TorchMissing, TorchWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := NewCommandProbe("python3", nil)
			probe.runner = &fakeRunner{
				run: func(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
					return commandResult{ExitCode: tt.exitCode}, tt.err
				},
			}
			got := probe.ProbeCUDA(context.Background())
			if got != tt.want || got.Warning() != tt.warning {
				t.Fatalf("ProbeCUDA() = %v (%q), want %v (%q)", got, got.Warning(), tt.want, tt.warning)
			}
		})
	}
}

type fixedProbe DeviceStatus

func (p fixedProbe) ProbeCUDA(context.Context) DeviceStatus { return DeviceStatus(p) }

// TestPrepareDowngradesWhenTorchMissing keeps the torch-specific warning.
func TestPrepareDowngradesWhenTorchMissing(t *testing.T) {
	d, root := newTestRunner(t, fixedProbe(TorchMissing), &fakeRunner{})
	audio := filepath.Join(root, "a.wav")
	mustWriteFile(t, audio, "RIFF")

	inv, err := d.Prepare(context.Background(), Request{AudioPath: audio, Device: "cuda"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if inv.Device != "cpu" || inv.Warning != TorchWarning {
		t.Fatalf("device = %q warning = %q, want cpu / %q", inv.Device, inv.Warning, TorchWarning)
	}
}
