// Package sandbox runs registered demos under an isolation strategy and a
// hard deadline.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Artifact names inside the per-run work directory and inside the container.
const (
	InputFile  = "params.json"
	OutputDir  = "output"
	OutputFile = "result.json"

	ContainerInputPath  = "/input/" + InputFile
	ContainerOutputDir  = "/output"
	ContainerOutputPath = ContainerOutputDir + "/" + OutputFile

	// DemoIDEnv names the demo inside the sandbox.
	DemoIDEnv = "DEMO_ID"
)

// ErrUnavailable is returned by Runner.Available when no isolation backend
// can be reached.
var ErrUnavailable = errors.New("sandbox backend unavailable")

// Limits bounds one sandbox instance.
type Limits struct {
	CPUs      float64
	MemoryMB  int64
	PidsLimit int64
	ScratchMB int64
}

// RunSpec describes one isolated execution. WorkDir holds InputFile and an
// OutputDir subdirectory the runner exposes to the sandbox.
type RunSpec struct {
	DemoID         string
	WorkDir        string
	NetworkEnabled bool
	// RawNet grants the single capability raw packet I/O needs.
	RawNet  bool
	Limits  Limits
	Timeout time.Duration
}

// RunOutcome is what the runner observed about the sandbox process. The output
// artifact, not ExitCode, is authoritative for the demo result.
type RunOutcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner starts a fresh sandbox per call. Run must force-terminate the
// sandbox once spec.Timeout elapses and report TimedOut.
type Runner interface {
	Available(ctx context.Context) error
	Run(ctx context.Context, spec RunSpec) (*RunOutcome, error)
}
