package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/metrics"
	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeDirect  Mode = "direct"
	// ModeNone marks executions that never reached a demo.
	ModeNone Mode = "none"
)

const DefaultGrace = 5 * time.Second

// maxCapturedOutput bounds the stdout/stderr copied into result metadata.
const maxCapturedOutput = 8 << 10

// Execution is the executor's answer. TimedOut is set only when the
// executor's own deadline fired; a demo that reports an in-protocol timeout
// comes back as a normal failed result.
type Execution struct {
	Result   domain.ExecutionResult
	TimedOut bool
	Mode     Mode
}

type Options struct {
	// Runner is the isolation backend; nil means none is available.
	Runner Runner
	Limits Limits
	Grace  time.Duration
	// AllowUnisolated lets privileged demos run in-process when the runner is
	// unavailable. Otherwise they fail with an infrastructure error.
	AllowUnisolated bool
	// TempDir is the parent of per-run work directories; empty uses os.TempDir.
	TempDir string
	Logger  *slog.Logger
	Now     func() time.Time
}

type Executor struct {
	registry *registry.Registry
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewExecutor(reg *registry.Registry, opts Options) *Executor {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{registry: reg, opts: opts, logger: logger, now: now}
}

// SandboxAvailable reports whether the isolation backend answers.
func (e *Executor) SandboxAvailable(ctx context.Context) bool {
	if e.opts.Runner == nil {
		return false
	}
	return e.opts.Runner.Available(ctx) == nil
}

// Execute runs demoID with raw parameters. It never panics and never returns
// an error: every failure is folded into a failed ExecutionResult.
func (e *Executor) Execute(ctx context.Context, jobID, demoID string, raw map[string]any) (out Execution) {
	start := e.now()
	out.Mode = ModeNone
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("executor panic", "job_id", jobID, "demo", demoID, "panic", rec, "stack", string(debug.Stack()))
			out = Execution{Result: domain.Failure(fmt.Sprintf("internal error: %v", rec), nil), Mode: out.Mode}
		}
		out.Result.WithMeta(domain.MetaJobID, jobID)
		out.Result.WithMeta(domain.MetaIsolation, string(out.Mode))
		if _, ok := out.Result.Metadata[domain.MetaDemoID]; !ok {
			out.Result.WithMeta(domain.MetaDemoID, demoID)
		}
		if out.TimedOut {
			out.Result.WithMeta(domain.MetaTimedOut, true)
		}
		// The demo reports its own protocol time; this covers isolation setup too.
		out.Result.WithMeta(domain.MetaExecutionTimeMS, float64(e.now().Sub(start).Microseconds())/1000)
		metrics.SandboxExecutionsTotal.WithLabelValues(demoID, string(out.Mode)).Inc()
	}()

	demo, ok := e.registry.Get(demoID)
	if !ok {
		return Execution{Result: domain.Failure(domain.DemoNotFound(demoID).Error(), nil), Mode: ModeNone}
	}
	recipe := demo.Recipe
	deadline := time.Duration(recipe.MaxRuntime)*time.Second + e.opts.Grace

	if !recipe.RequiresRoot {
		return e.direct(ctx, demo, raw, deadline)
	}
	if e.SandboxAvailable(ctx) {
		return e.isolated(ctx, recipe, raw, deadline)
	}
	if !e.opts.AllowUnisolated {
		e.logger.Error("sandbox unavailable for privileged demo", "job_id", jobID, "demo", demoID)
		return Execution{
			Result: domain.Failure("sandbox backend unavailable: privileged demo cannot run without isolation", nil),
			Mode:   ModeNone,
		}
	}
	e.logger.Warn("executing without sandbox isolation", "job_id", jobID, "demo", demoID)
	return e.direct(ctx, demo, raw, deadline)
}

// direct runs the demo in-process. The demo goroutine may outlive the
// deadline; its late result is dropped.
func (e *Executor) direct(ctx context.Context, demo *registry.RegisteredDemo, raw map[string]any, deadline time.Duration) Execution {
	typed, err := demo.Validate(raw)
	if err != nil {
		return Execution{Result: domain.Failure(err.Error(), nil), Mode: ModeDirect}
	}

	runCtx, cancel := runContext(ctx, deadline)
	defer cancel()

	done := make(chan domain.ExecutionResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error("demo panic", "demo", demo.Recipe.ID, "panic", rec)
				done <- domain.Failure(fmt.Sprintf("demo panicked: %v", rec), nil)
			}
		}()
		done <- demo.Execute(runCtx, typed)
	}()

	select {
	case res := <-done:
		return Execution{Result: res, Mode: ModeDirect}
	case <-runCtx.Done():
		if !deadlineFired(runCtx) {
			return Execution{Result: interruptedResult(), Mode: ModeDirect}
		}
		return Execution{Result: timeoutResult(deadline), TimedOut: true, Mode: ModeDirect}
	}
}

// runContext detaches the run from the caller's cancellation so a job in hand
// drains on shutdown. Only the executor deadline bounds it.
func runContext(ctx context.Context, deadline time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), deadline)
}

func deadlineFired(runCtx context.Context) bool {
	return errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

func (e *Executor) isolated(ctx context.Context, recipe domain.DemoRecipe, raw map[string]any, deadline time.Duration) Execution {
	workDir, err := os.MkdirTemp(e.opts.TempDir, "netdemo-run-")
	if err != nil {
		return infraFailure(fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	if err := writeInput(workDir, raw); err != nil {
		return infraFailure(err)
	}

	spec := RunSpec{
		DemoID:         recipe.ID,
		WorkDir:        workDir,
		NetworkEnabled: recipe.RequiresNetwork,
		RawNet:         recipe.RequiresRoot,
		Limits:         e.opts.Limits,
		Timeout:        deadline,
	}
	runCtx, cancel := runContext(ctx, deadline)
	defer cancel()
	outcome, err := e.opts.Runner.Run(runCtx, spec)
	if outcome == nil {
		outcome = &RunOutcome{ExitCode: -1}
	}
	if outcome.TimedOut && !deadlineFired(runCtx) {
		res := interruptedResult()
		attachDiagnostics(&res, outcome)
		return Execution{Result: res, Mode: ModeSandbox}
	}
	if !outcome.TimedOut && err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || !deadlineFired(runCtx) {
			return infraFailure(fmt.Errorf("sandbox run: %w", err))
		}
		outcome.TimedOut = true
	}
	if outcome.TimedOut {
		res := timeoutResult(deadline)
		attachDiagnostics(&res, outcome)
		return Execution{Result: res, TimedOut: true, Mode: ModeSandbox}
	}

	res, err := readOutput(filepath.Join(workDir, OutputDir, OutputFile))
	if err != nil {
		failed := domain.Failure(fmt.Sprintf("sandbox produced no result (exit code %d): %v", outcome.ExitCode, err), nil)
		attachDiagnostics(&failed, outcome)
		return Execution{Result: failed, Mode: ModeSandbox}
	}
	if outcome.ExitCode != 0 {
		res.WithMeta(domain.MetaExitCode, outcome.ExitCode)
	}
	return Execution{Result: res, Mode: ModeSandbox}
}

func writeInput(workDir string, raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, InputFile), b, 0o644); err != nil {
		return fmt.Errorf("write parameters: %w", err)
	}
	// The sandbox user differs from ours.
	if err := os.Mkdir(filepath.Join(workDir, OutputDir), 0o777); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.Chmod(filepath.Join(workDir, OutputDir), 0o777)
}

func readOutput(path string) (domain.ExecutionResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	var res domain.ExecutionResult
	if err := json.Unmarshal(b, &res); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("decode result: %w", err)
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	return res, nil
}

func timeoutResult(deadline time.Duration) domain.ExecutionResult {
	return domain.Failure(fmt.Sprintf("execution exceeded %s and was terminated", deadline), nil)
}

func interruptedResult() domain.ExecutionResult {
	return domain.Failure("execution interrupted by shutdown", nil)
}

func infraFailure(err error) Execution {
	return Execution{Result: domain.Failure(err.Error(), nil), Mode: ModeSandbox}
}

func attachDiagnostics(res *domain.ExecutionResult, outcome *RunOutcome) {
	res.WithMeta(domain.MetaExitCode, outcome.ExitCode)
	res.WithMeta(domain.MetaStdout, truncate(outcome.Stdout))
	res.WithMeta(domain.MetaStderr, truncate(outcome.Stderr))
}

func truncate(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[len(s)-maxCapturedOutput:]
}
