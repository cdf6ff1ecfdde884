// Package hooks defines the pre/post/exception hook types, their
// stage-tagged dependency declarations, and the deterministic resolution
// of hook execution order.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/checkpoint"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cleanup"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// Sentinel errors for hook declarations.
var (
	// ErrInvalidStageDep is returned when a hook depends on a stage its
	// phase does not contain.
	ErrInvalidStageDep = errors.New("stage not available in this phase")

	// ErrInvalidPer is returned for a granularity the phase does not
	// support.
	ErrInvalidPer = errors.New("invalid hook granularity for phase")
)

// When is the hook phase.
type When int

// Hook phases.
const (
	Pre When = iota
	Post
	Exception
)

func (when When) String() string {
	switch when {
	case Pre:
		return "pre"
	case Post:
		return "post"
	default:
		return "exception"
	}
}

// Condition gates a hook on the state of its input samples.
type Condition int

// Hook conditions.
const (
	Always Condition = iota
	Complete
	Unprocessed
	Failed
)

func (condition Condition) String() string {
	switch condition {
	case Complete:
		return "complete"
	case Unprocessed:
		return "unprocessed"
	case Failed:
		return "failed"
	default:
		return "always"
	}
}

// Per is the hook granularity.
type Per int

// Hook granularities.
const (
	Session Per = iota
	Runner
	Sample
)

func (per Per) String() string {
	switch per {
	case Runner:
		return "runner"
	case Sample:
		return "sample"
	default:
		return "session"
	}
}

// depKind discriminates the Dep variant.
type depKind int

const (
	depName depKind = iota
	depStage
	depAll
)

// Dep is one ordering dependency: another hook by name, a stage tag, or
// every other hook in the phase.
type Dep struct {
	kind  depKind
	name  string
	stage Stage
}

// OnHook references another hook by name.
func OnHook(name string) Dep {
	return Dep{kind: depName, name: name}
}

// OnStage references a stage tag.
func OnStage(stage Stage) Dep {
	return Dep{kind: depStage, stage: stage}
}

// All references every other hook in the phase.
var All = Dep{kind: depAll}

// Invocation carries everything a pre/post hook receives.
type Invocation struct {
	Samples     *data.Samples
	Config      *cfg.Config
	Timestamp   util.Timestamp
	Log         *slog.Logger
	Root        string
	Workdir     string
	Executor    *executor.Handle
	Cleaner     cleanup.Ledger
	Checkpoints *checkpoint.Checkpoints
}

// Func is a pre/post hook body. Returning nil samples keeps the input set.
type Func func(ctx context.Context, inv *Invocation) (*data.Samples, error)

// ExceptionContext carries everything an exception hook receives.
type ExceptionContext struct {
	Exception error
	Config    *cfg.Config
	Timestamp util.Timestamp
	Log       *slog.Logger
	Root      string
}

// ExceptionFunc is an exception hook body.
type ExceptionFunc func(ctx context.Context, ectx *ExceptionContext)

// Hook is one registered hook.
type Hook struct {
	Name      string
	Label     string
	When      When
	Condition Condition
	Per       Per
	Before    []Dep
	After     []Dep

	Func          Func
	ExceptionFunc ExceptionFunc
}

// Option configures a hook at construction.
type Option func(*Hook)

// WithLabel overrides the display label (defaults to the name).
func WithLabel(label string) Option {
	return func(hook *Hook) { hook.Label = label }
}

// WithCondition gates the hook on sample state.
func WithCondition(condition Condition) Option {
	return func(hook *Hook) { hook.Condition = condition }
}

// WithPer sets the hook granularity.
func WithPer(per Per) Option {
	return func(hook *Hook) { hook.Per = per }
}

// Before declares hooks or stages this hook must precede.
func Before(deps ...Dep) Option {
	return func(hook *Hook) { hook.Before = append(hook.Before, deps...) }
}

// After declares hooks or stages this hook must follow.
func After(deps ...Dep) Option {
	return func(hook *Hook) { hook.After = append(hook.After, deps...) }
}

// NewPre creates a pre-hook.
func NewPre(name string, fn Func, opts ...Option) *Hook {
	return build(&Hook{Name: name, When: Pre, Func: fn}, opts)
}

// NewPost creates a post-hook.
func NewPost(name string, fn Func, opts ...Option) *Hook {
	return build(&Hook{Name: name, When: Post, Func: fn}, opts)
}

// NewException creates an exception hook.
func NewException(name string, fn ExceptionFunc, opts ...Option) *Hook {
	return build(&Hook{Name: name, When: Exception, ExceptionFunc: fn}, opts)
}

func build(hook *Hook, opts []Option) *Hook {
	for _, opt := range opts {
		opt(hook)
	}

	if hook.Label == "" {
		hook.Label = hook.Name
	}

	return hook
}

// Validate checks the hook's granularity and stage dependencies against
// its phase.
func (hook *Hook) Validate() error {
	switch hook.When {
	case Pre:
		if hook.Per == Sample {
			return fmt.Errorf("%w: pre-hook %q cannot run per sample", ErrInvalidPer, hook.Name)
		}
	case Exception:
		if hook.Per != Session {
			return fmt.Errorf("%w: exception hook %q must run per session", ErrInvalidPer, hook.Name)
		}
	case Post:
	}

	for _, dep := range append(append([]Dep{}, hook.Before...), hook.After...) {
		if dep.kind != depStage {
			continue
		}

		if !stageAllowed(hook.When, dep.stage) {
			return fmt.Errorf("%w: %s-hook %q depends on %s",
				ErrInvalidStageDep, hook.When, hook.Name, dep.stage)
		}
	}

	return nil
}
