package executor

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Mock records submitted jobs without running anything. Tests configure
// failures by argv substring.
type Mock struct {
	mu sync.Mutex

	// Submitted collects the argv of every job, in submission order.
	Submitted [][]string

	// FailPattern makes jobs whose argv contains the substring fail with
	// FailCode.
	FailPattern string

	// FailCode is the exit code for matched jobs (default 1).
	FailCode int

	// Terminated collects the UUIDs whose terminate hook ran.
	Terminated []uuid.UUID
}

// NewMock creates a recording executor.
func NewMock() Impl {
	return &Mock{}
}

// Name identifies the executor.
func (mock *Mock) Name() string {
	return "mock"
}

// Target records the argv and succeeds unless the fail pattern matches.
func (mock *Mock) Target(ctx context.Context, job *Job) error {
	mock.mu.Lock()
	mock.Submitted = append(mock.Submitted, job.Argv)
	pattern := mock.FailPattern
	code := mock.FailCode
	mock.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if pattern != "" && strings.Contains(strings.Join(job.Argv, " "), pattern) {
		if code == 0 {
			code = 1
		}

		return &ExitError{Code: code}
	}

	return nil
}

// TerminateHook records the termination.
func (mock *Mock) TerminateHook(id uuid.UUID, _ *slog.Logger) int {
	mock.mu.Lock()
	mock.Terminated = append(mock.Terminated, id)
	mock.mu.Unlock()

	return 0
}
