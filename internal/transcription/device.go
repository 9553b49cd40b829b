package transcription

import (
	"context"
	"sync"
	"time"
)

// torchCUDACheck exits 0 when torch sees a GPU, 1 when it does not, and
// torchMissingExit when torch cannot be imported.
const torchCUDACheck = `import sys
try:
    import torch
except Exception:
    sys.exit(2)
sys.exit(0 if torch.cuda.is_available() else 1)`

const torchMissingExit = 2

// DeviceStatus is the answer of a DeviceProbe
type DeviceStatus int

const (
	CUDAReady DeviceStatus = iota
	CUDAMissing
	TorchMissing
)

// Warning is the job warning recorded when a CUDA request falls back to CPU
func (s DeviceStatus) Warning() string {
	switch s {
	case CUDAMissing:
		return DeviceWarning
	case TorchMissing:
		return TorchWarning
	default:
		return ""
	}
}

// DeviceProbe reports whether GPU acceleration is usable by the collaborator
type DeviceProbe interface {
	ProbeCUDA(ctx context.Context) DeviceStatus
}

// StaticProbe answers with a fixed value
type StaticProbe bool

// ProbeCUDA implements DeviceProbe.
func (p StaticProbe) ProbeCUDA(context.Context) DeviceStatus {
	if p {
		return CUDAReady
	}
	return CUDAMissing
}

// CommandProbe runs a check command once and caches the answer for the
// lifetime of the process. Exit status 0 means CUDA is available, exit
// status 2 or a failure to start means torch is unusable.
type CommandProbe struct {
	name    string
	args    []string
	timeout time.Duration
	runner  commandRunner

	once   sync.Once
	status DeviceStatus
}

// NewCommandProbe builds a probe from an explicit command line. With an
// empty command it asks python whether torch can see a CUDA device.
func NewCommandProbe(python string, command []string) *CommandProbe {
	p := &CommandProbe{
		timeout: 30 * time.Second,
		runner:  &execRunner{},
	}
	if len(command) > 0 {
		p.name = command[0]
		p.args = command[1:]
	} else {
		p.name = python
		p.args = []string{"-c", torchCUDACheck}
	}
	return p
}

// ProbeCUDA implements DeviceProbe.
func (p *CommandProbe) ProbeCUDA(ctx context.Context) DeviceStatus {
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		res, err := p.runner.Run(ctx, "", p.name, p.args...)
		switch {
		case err == nil:
			p.status = CUDAReady
		case res.ExitCode == torchMissingExit, res.ExitCode < 0:
			p.status = TorchMissing
		default:
			p.status = CUDAMissing
		}
	})
	return p.status
}
