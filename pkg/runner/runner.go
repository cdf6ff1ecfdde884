// Package runner wraps user work functions: each runner owns a per-run
// workdir, its hook staging, checkpoint prefix, declared-output resolution,
// and the failure policy for the samples it was handed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/checkpoint"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cleanup"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/hooks"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// Invocation carries everything a runner main receives.
type Invocation struct {
	Samples     *data.Samples
	Config      *cfg.Config
	Timestamp   util.Timestamp
	Log         *slog.Logger
	Root        string
	Workdir     string
	Group       string
	Executor    *executor.Handle
	Cleaner     cleanup.Ledger
	Checkpoints *checkpoint.Checkpoints
}

// MainFunc is a runner body. Returning nil keeps the input samples.
type MainFunc func(ctx context.Context, inv *Invocation) (*data.Samples, error)

// Runner executes one user function per split group.
type Runner struct {
	Name    string
	Label   string
	SplitBy string
	Main    MainFunc

	outputs []data.OutputGlob
}

// Option configures a runner at construction.
type Option func(*Runner)

// WithLabel overrides the display label.
func WithLabel(label string) Option {
	return func(runner *Runner) { runner.Label = label }
}

// WithSplitBy fans the runner out over sample groups sharing a field
// value.
func WithSplitBy(field string) Option {
	return func(runner *Runner) { runner.SplitBy = field }
}

// WithOutput declares an output glob attached to the samples before main
// runs.
func WithOutput(glob data.OutputGlob) Option {
	return func(runner *Runner) { runner.outputs = append(runner.outputs, glob) }
}

// New creates a runner.
func New(name string, main MainFunc, opts ...Option) *Runner {
	runner := &Runner{Name: name, Main: main}

	for _, opt := range opts {
		opt(runner)
	}

	if runner.Label == "" {
		runner.Label = name
	}

	return runner
}

// Request is the dispatcher-provided context for one runner invocation.
type Request struct {
	Samples   *data.Samples
	Config    *cfg.Config
	Root      string
	Timestamp util.Timestamp
	Workdir   string
	Group     string

	// Hooks is the resolved hook list; per-runner pre/post hooks run
	// inside the invocation.
	Hooks []*hooks.Hook

	ExecutorImpl executor.Factory
	Log          *slog.Logger

	// OnException routes unhandled errors to the exception hooks.
	OnException func(err error)
}

// failure messages, defined once so tests can assert them.
func interruptedReason(name string) string {
	return fmt.Sprintf("Runner '%s' was interrupted", name)
}

func exitReason(name string, code int) string {
	return fmt.Sprintf("Runner '%s' exited with non-zero status(%d)", name, code)
}

func unhandledReason(name string, err error) string {
	return fmt.Sprintf("Unhandled exception in runner '%s': %v", name, err)
}

// callMain invokes the user function with panic containment.
func (runner *Runner) callMain(ctx context.Context, inv *Invocation) (returned *data.Samples, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()

	return runner.Main(ctx, inv)
}

// Invoke runs the user main over one sample subset and returns the
// resulting samples plus the deferred cleanup ledger for the dispatcher to
// absorb. Every failure path converts into per-sample fail reasons; Invoke
// itself does not fail.
func (runner *Runner) Invoke(ctx context.Context, req Request) (*data.Samples, *cleanup.Deferred) {
	log := req.Log.With("label", runner.Label)

	mkdirErr := os.MkdirAll(req.Workdir, 0o750)
	if mkdirErr != nil {
		samples := req.Samples.Copy()
		for _, sample := range samples.All() {
			sample.Fail(unhandledReason(runner.Name, mkdirErr))
		}

		return samples, cleanup.NewDeferred(req.Workdir)
	}

	deferred := cleanup.NewDeferred(req.Workdir)
	_ = deferred.Register(req.Workdir)

	// Per-runner pre-hooks see the subset before main.
	samples := hooks.RunPhase(ctx, hooks.PhaseParams{
		Hooks:            req.Hooks,
		When:             hooks.Pre,
		Per:              hooks.Runner,
		Samples:          req.Samples,
		Config:           req.Config,
		Root:             req.Root,
		Timestamp:        req.Timestamp,
		Cleaner:          deferred,
		Log:              req.Log,
		ExecutorImpl:     req.ExecutorImpl,
		CheckpointSuffix: "runner_" + runner.Name,
		OnException:      req.OnException,
	})

	for _, glob := range runner.outputs {
		samples.Outputs.Add(glob)
	}

	handle := executor.NewHandle(req.ExecutorImpl(), req.Config, req.Workdir, log)
	defer handle.Close()

	prefix := "runner." + runner.Name
	if req.Group != "" {
		prefix += "." + req.Group
	}

	inv := &Invocation{
		Samples:   samples,
		Config:    req.Config,
		Timestamp: req.Timestamp,
		Log:       log,
		Root:      req.Root,
		Workdir:   req.Workdir,
		Group:     req.Group,
		Executor:  handle,
		Cleaner:   deferred,
		Checkpoints: checkpoint.NewCheckpoints(
			samples, prefix, req.Workdir, req.Config.Container, log),
	}

	returned, mainErr := runner.callMain(ctx, inv)

	if mainErr == nil && ctx.Err() != nil {
		mainErr = ctx.Err()
	}

	switch {
	case mainErr == nil:
		switch {
		case returned == nil:
			log.Debug("Runner did not return any samples")
		case returned.Type() == samples.Type():
			samples = returned
		default:
			log.Warn("Unexpected runner return type, keeping input samples")
		}

		for _, sample := range samples.All() {
			sample.Processed = true
		}
	case errors.Is(mainErr, context.Canceled):
		runner.failAll(log, handle, samples, interruptedReason(runner.Name))
	default:
		var exitErr *executor.ExitError

		if errors.As(mainErr, &exitErr) {
			runner.failAll(log, handle, samples, exitReason(runner.Name, exitErr.Code))
		} else {
			if req.OnException != nil {
				req.OnException(mainErr)
			}

			runner.failAll(log, handle, samples, unhandledReason(runner.Name, mainErr))
		}
	}

	resolveOutputs(samples, req.Workdir, req.Config, req.Timestamp, log)

	for _, sample := range samples.Complete().All() {
		log.Debug("Sample processed successfully", "sample", sample.ID)
	}

	for _, sample := range samples.Unprocessed().All() {
		if sample.FailReason() == "" {
			sample.Fail(data.FailReasonUnprocessed)
		}
	}

	if failed := samples.Failed(); failed.Len() > 0 {
		log.Error("Samples failed", "count", failed.Len())
		deferred.Unregister(req.Workdir)

		for _, sample := range failed.All() {
			log.Debug("Sample failed", "sample", sample.ID, "reason", sample.Failed())
		}
	}

	// Per-runner post-hooks see the final disposition.
	samples = hooks.RunPhase(ctx, hooks.PhaseParams{
		Hooks:            req.Hooks,
		When:             hooks.Post,
		Per:              hooks.Runner,
		Samples:          samples,
		Config:           req.Config,
		Root:             req.Root,
		Timestamp:        req.Timestamp,
		Cleaner:          deferred,
		Log:              req.Log,
		ExecutorImpl:     req.ExecutorImpl,
		CheckpointSuffix: "runner_" + runner.Name,
		OnException:      req.OnException,
	})

	return samples, deferred
}

// failAll is the shared failure path: terminate outstanding jobs, clear
// declared outputs, and fail every sample with the reason.
func (runner *Runner) failAll(
	log *slog.Logger,
	handle *executor.Handle,
	samples *data.Samples,
	reason string,
) {
	log.Warn(reason)
	handle.Terminate()

	log.Debug("Clearing outputs and failing samples")
	samples.Outputs.Clear()

	for _, sample := range samples.All() {
		sample.Fail(reason)
	}
}

// resolveOutputs replaces every declared OutputGlob with its concrete
// Outputs, resolved against the complete samples only.
func resolveOutputs(
	samples *data.Samples,
	workdir string,
	config *cfg.Config,
	ts util.Timestamp,
	log *slog.Logger,
) {
	for _, glob := range samples.Outputs.Globs() {
		samples.Outputs.Remove(glob)

		complete := samples.Complete()
		if complete.Len() == 0 {
			continue
		}

		for _, output := range glob.Resolve(complete, workdir, config.Container, ts, log) {
			samples.Outputs.Add(output)
		}
	}
}

// Workdir derives the per-invocation workdir for a runner and group under
// the session workdir.
func Workdir(config *cfg.Config, runnerName, group string) string {
	workdir := filepath.Join(config.Workdir(), config.Tag(), runnerName)

	if group != "" {
		workdir = filepath.Join(workdir, group)
	}

	return workdir
}
