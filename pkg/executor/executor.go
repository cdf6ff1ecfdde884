// Package executor launches external commands as supervised jobs with a
// per-job lifecycle: pending, running, and exactly one terminal callback.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
)

// Sentinel errors for job submission.
var (
	// ErrJobPending is returned when a UUID is reused while its job is
	// still pending.
	ErrJobPending = errors.New("job with this UUID is already pending")

	// ErrUnknownExecutor is returned for an unregistered executor name.
	ErrUnknownExecutor = errors.New("unknown executor")
)

// ensuredPath is always appended to the job PATH.
const ensuredPath = "/usr/local/bin:/usr/local/sbin:/usr/bin:/usr/sbin:/bin:/sbin"

// terminatedExitCode is the exit code signalled for externally terminated
// jobs.
const terminatedExitCode = 143

// ExitError reports a non-zero job exit.
type ExitError struct {
	Code int
}

func (err *ExitError) Error() string {
	return fmt.Sprintf("job exited with non-zero status(%d)", err.Code)
}

// Impl is the executor strategy: how one prepared job actually runs.
// Target blocks until the job finishes; a cancelled context is the
// cooperative terminate signal.
type Impl interface {
	// Name identifies the executor in workdir and log file names.
	Name() string

	// Target runs one job to completion.
	Target(ctx context.Context, job *Job) error

	// TerminateHook runs when a job is terminated before completion and
	// returns the exit code to signal (0 means the default 143). It must
	// reap any child processes the job spawned.
	TerminateHook(id uuid.UUID, log *slog.Logger) int
}

// Factory produces a fresh Impl per scope (the engine instantiates one
// executor per runner workdir).
type Factory func() Impl

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs an executor factory under a name. Later registrations
// replace earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[name] = factory
}

// NewImpl instantiates a registered executor.
func NewImpl(name string) (Impl, error) {
	registryMu.RLock()
	factory, exists := registry[name]
	registryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, name)
	}

	return factory(), nil
}

// Names returns the registered executor names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Job is one submitted unit of work.
type Job struct {
	UUID    uuid.UUID
	Name    string
	Argv    []string
	Workdir string
	Env     map[string]string
	OSEnv   bool
	CPUs    int
	Memory  uint64
	Stdout  string
	Stderr  string
	Config  *cfg.Config
	Log     *slog.Logger

	done       chan struct{}
	err        error
	cancel     context.CancelFunc
	terminated atomic.Bool
}

// Wait blocks until the job reaches a terminal state and returns its
// error, if any.
func (job *Job) Wait() error {
	<-job.done

	return job.err
}

// Done exposes the terminal gate for select loops.
func (job *Job) Done() <-chan struct{} {
	return job.done
}

// Handle supervises jobs for one scope (a runner or hook workdir).
type Handle struct {
	impl        Impl
	config      *cfg.Config
	workdirBase string
	log         *slog.Logger

	mu    sync.Mutex
	jobs  map[uuid.UUID]*Job
	order []uuid.UUID
}

// NewHandle creates a job supervisor scoped to a workdir base.
func NewHandle(impl Impl, config *cfg.Config, workdirBase string, log *slog.Logger) *Handle {
	return &Handle{
		impl:        impl,
		config:      config,
		workdirBase: workdirBase,
		log:         log,
		jobs:        make(map[uuid.UUID]*Job),
	}
}

// mergeEnv layers the shared executor environment, the per-job overrides,
// and the PATH guarantee.
func (handle *Handle) mergeEnv(extra map[string]string) map[string]string {
	env := make(map[string]string)

	for key, value := range handle.config.ExecutorEnv() {
		env[key] = value
	}

	for key, value := range extra {
		env[key] = value
	}

	if current, exists := env["PATH"]; exists && current != "" {
		if !strings.Contains(current, ensuredPath) {
			env["PATH"] = current + ":" + ensuredPath
		}
	} else {
		env["PATH"] = ensuredPath
	}

	return env
}

// Submit schedules one job. The returned Job is already running; Wait on
// it or pass wait=true via WithWait.
func (handle *Handle) Submit(ctx context.Context, argv []string, opts ...SubmitOption) (*Job, error) {
	options := newSubmitOptions(handle.impl.Name(), opts)

	handle.mu.Lock()

	if existing, pending := handle.jobs[options.uuid]; pending {
		select {
		case <-existing.done:
			// Terminal: the UUID may be reused.
		default:
			handle.mu.Unlock()

			return nil, fmt.Errorf("%w: %s", ErrJobPending, options.uuid)
		}
	}

	workdir := options.workdir
	if workdir == "" {
		workdir = filepath.Join(handle.workdirBase,
			fmt.Sprintf("%s.%s.%s", options.name, hex(options.uuid), handle.impl.Name()))
	}

	mkdirErr := os.MkdirAll(workdir, 0o750)
	if mkdirErr != nil {
		handle.mu.Unlock()

		return nil, fmt.Errorf("create job workdir: %w", mkdirErr)
	}

	prefix := fmt.Sprintf("%s.%s.%s", options.name, hex(options.uuid), handle.impl.Name())

	jobCtx, cancel := context.WithCancel(ctx)

	job := &Job{
		UUID:    options.uuid,
		Name:    options.name,
		Argv:    argv,
		Workdir: workdir,
		Env:     handle.mergeEnv(options.env),
		OSEnv:   options.osEnv(handle.config),
		CPUs:    options.cpus(handle.config),
		Memory:  options.memory(handle.config),
		Stdout:  filepath.Join(workdir, prefix+".stdout"),
		Stderr:  filepath.Join(workdir, prefix+".stderr"),
		Config:  handle.config,
		Log:     handle.log.With("label", options.name),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	if options.condaSpec != nil {
		condaErr := prepareConda(job, options.condaSpec)
		if condaErr != nil {
			cancel()
			handle.mu.Unlock()

			return nil, condaErr
		}
	}

	handle.jobs[job.UUID] = job
	handle.order = append(handle.order, job.UUID)
	handle.mu.Unlock()

	go handle.run(jobCtx, job, options)

	if options.wait {
		_ = job.Wait()
	}

	return job, nil
}

// run drives one job to its terminal state and fires exactly one of the
// callbacks.
func (handle *Handle) run(ctx context.Context, job *Job, options *submitOptions) {
	job.Log.Debug("Starting job",
		"executor", handle.impl.Name(), "uuid", hex(job.UUID))

	err := handle.impl.Target(ctx, job)

	switch {
	case job.terminated.Load() || errors.Is(err, context.Canceled):
		code := handle.impl.TerminateHook(job.UUID, job.Log)
		if code == 0 {
			code = terminatedExitCode
		}

		job.Log.Debug("Terminated job", "uuid", hex(job.UUID), "code", code)
		job.err = &ExitError{Code: code}

		if options.errorCallback != nil {
			options.errorCallback(job.err)
		}
	case err != nil:
		job.Log.Warn("Job failed",
			"executor", handle.impl.Name(), "uuid", hex(job.UUID), "error", err)
		handle.impl.TerminateHook(job.UUID, job.Log)
		job.err = err

		if options.errorCallback != nil {
			options.errorCallback(err)
		}
	default:
		job.Log.Debug("Completed job",
			"executor", handle.impl.Name(), "uuid", hex(job.UUID))

		if options.callback != nil {
			options.callback(job)
		}
	}

	close(job.done)
}

// Wait blocks until the given jobs (or all jobs) complete.
func (handle *Handle) Wait(ids ...uuid.UUID) {
	for _, job := range handle.selected(ids) {
		<-job.done
	}
}

// Terminate cancels the given jobs (or all jobs, in submission order) and
// waits for their terminal callbacks.
func (handle *Handle) Terminate(ids ...uuid.UUID) {
	jobs := handle.selected(ids)

	for _, job := range jobs {
		select {
		case <-job.done:
		default:
			job.terminated.Store(true)
			job.cancel()
		}
	}

	for _, job := range jobs {
		<-job.done
	}
}

// Close terminates every outstanding job. Handles are closed when their
// runner or hook scope ends.
func (handle *Handle) Close() {
	handle.Terminate()
}

func (handle *Handle) selected(ids []uuid.UUID) []*Job {
	handle.mu.Lock()
	defer handle.mu.Unlock()

	if len(ids) == 0 {
		jobs := make([]*Job, 0, len(handle.order))
		for _, id := range handle.order {
			jobs = append(jobs, handle.jobs[id])
		}

		return jobs
	}

	jobs := make([]*Job, 0, len(ids))

	for _, id := range ids {
		if job, exists := handle.jobs[id]; exists {
			jobs = append(jobs, job)
		}
	}

	return jobs
}

func hex(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
