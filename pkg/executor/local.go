package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// terminateGrace is how long a terminated process group gets between
// SIGTERM and SIGKILL.
const terminateGrace = 10 * time.Second

// Local runs jobs as local subprocesses in their own process group.
type Local struct {
	mu   sync.Mutex
	pids map[uuid.UUID]int
}

// NewLocal creates a local subprocess executor.
func NewLocal() Impl {
	return &Local{pids: make(map[uuid.UUID]int)}
}

// Name identifies the executor.
func (local *Local) Name() string {
	return "local"
}

// Target starts the job argv in its own session with stdout/stderr
// redirected into the job workdir, then waits. Context cancellation
// terminates the whole process group.
func (local *Local) Target(ctx context.Context, job *Job) error {
	if len(job.Argv) == 0 {
		return errors.New("empty argv")
	}

	stdout, err := os.Create(job.Stdout)
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	defer stdout.Close()

	stderr, err := os.Create(job.Stderr)
	if err != nil {
		return fmt.Errorf("open stderr: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(job.Argv[0], job.Argv[1:]...)
	cmd.Dir = job.Workdir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	env := make([]string, 0, len(job.Env))
	if job.OSEnv {
		env = append(env, os.Environ()...)
	}

	for key, value := range job.Env {
		env = append(env, key+"="+value)
	}

	cmd.Env = env

	startErr := cmd.Start()
	if startErr != nil {
		return fmt.Errorf("start job %q: %w", job.Name, startErr)
	}

	local.mu.Lock()
	local.pids[job.UUID] = cmd.Process.Pid
	local.mu.Unlock()

	job.Log.Debug("Started process", "pid", cmd.Process.Pid, "uuid", hex(job.UUID))

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Cooperative terminate: stop the process group, then reap.
		local.killGroup(cmd.Process.Pid, job.Log)
		<-waitCh

		return ctx.Err()
	case waitErr := <-waitCh:
		var exitErr *exec.ExitError

		if errors.As(waitErr, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}

		return waitErr
	}
}

// killGroup stops a job's process group: SIGTERM, a grace period, then
// SIGKILL for anything still alive.
func (local *Local) killGroup(pid int, log *slog.Logger) {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// Process group already gone.
		return
	}

	log.Warn("Terminating process group", "pgid", pgid)
	_ = unix.Kill(-pgid, unix.SIGTERM)

	deadline := time.Now().Add(terminateGrace)
	for time.Now().Before(deadline) {
		killErr := unix.Kill(-pgid, 0)
		if killErr != nil {
			return
		}

		time.Sleep(100 * time.Millisecond)
	}

	log.Warn("Killing unresponsive process group", "pgid", pgid)
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

// TerminateHook reaps whatever is left of the job's process group,
// including children that survived the cooperative stop.
func (local *Local) TerminateHook(id uuid.UUID, log *slog.Logger) int {
	local.mu.Lock()
	pid, tracked := local.pids[id]
	delete(local.pids, id)
	local.mu.Unlock()

	if !tracked {
		return 0
	}

	local.killGroup(pid, log)

	return terminatedExitCode
}

func init() {
	Register("local", NewLocal)
	Register("mock", NewMock)
}
