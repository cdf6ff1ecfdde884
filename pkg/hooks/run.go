package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/checkpoint"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cleanup"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// PhaseParams is the shared state for running one hook phase over one
// sample set.
type PhaseParams struct {
	// Hooks is the full resolved hook list; RunPhase filters by
	// When/Per itself.
	Hooks []*Hook

	When When
	Per  Per

	Samples   *data.Samples
	Config    *cfg.Config
	Root      string
	Timestamp util.Timestamp
	Cleaner   cleanup.Ledger
	Log       *slog.Logger

	// ExecutorImpl builds the executor scoped to each hook invocation.
	ExecutorImpl executor.Factory

	// CheckpointSuffix scopes checkpoint prefixes (runner name, group).
	CheckpointSuffix string

	// OnException routes unhandled hook errors to the exception hooks.
	// May be nil.
	OnException func(err error)
}

// subset selects the samples a hook sees under its condition. The second
// return is false when the hook must be skipped.
func subset(hook *Hook, samples *data.Samples) (*data.Samples, bool) {
	switch hook.Condition {
	case Always:
		return samples, true
	case Unprocessed:
		chosen := samples.Unprocessed()

		return chosen, chosen.Len() > 0
	case Complete:
		chosen := samples.Complete()

		return chosen, chosen.Len() > 0
	case Failed:
		chosen := samples.Failed()

		return chosen, chosen.Len() > 0
	default:
		return samples, true
	}
}

// call invokes one hook body with panic containment.
func call(ctx context.Context, hook *Hook, inv *Invocation) (returned *data.Samples, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic in hook %q: %v", hook.Name, recovered)
		}
	}()

	return hook.Func(ctx, inv)
}

// RunPhase executes the matching hooks of one phase in resolved order over
// a copy of the input set and returns the resulting samples. A hook's
// returned set replaces the input only inside the subset the hook saw;
// unchanged samples pass through.
func RunPhase(ctx context.Context, params PhaseParams) *data.Samples {
	current := params.Samples.Copy()

	for _, hook := range Filter(params.Hooks, params.When, params.Per) {
		chosen, run := subset(hook, current)
		if !run {
			continue
		}

		log := params.Log.With("label", hook.Label)
		log.Debug("Running hook", "when", hook.When.String(), "per", hook.Per.String())

		prefix := fmt.Sprintf("%s-hook.%s", hook.When, hook.Name)
		if params.CheckpointSuffix != "" {
			prefix += "." + params.CheckpointSuffix
		}

		workdir := filepath.Join(params.Config.Workdir(), params.Config.Tag())

		handle := executor.NewHandle(
			params.ExecutorImpl(), params.Config, workdir, log)

		inv := &Invocation{
			Samples:   chosen,
			Config:    params.Config,
			Timestamp: params.Timestamp,
			Log:       log,
			Root:      params.Root,
			Workdir:   workdir,
			Executor:  handle,
			Cleaner:   params.Cleaner,
			Checkpoints: checkpoint.NewCheckpoints(
				chosen, prefix, workdir, params.Config.Container, log),
		}

		returned, err := call(ctx, hook, inv)
		handle.Close()

		switch {
		case err != nil && errors.Is(err, context.Canceled):
			log.Warn("Interrupt received, failing samples and stopping execution")

			for _, sample := range current.All() {
				sample.Fail(fmt.Sprintf("Hook %s interrupted", hook.Name))
			}

			return current
		case err != nil && params.When == Pre:
			log.Error("Unhandled exception in pre hook", "hook", hook.Label, "error", err)

			if params.OnException != nil {
				params.OnException(err)
			}

			for _, sample := range current.All() {
				sample.Fail(fmt.Sprintf("Hook %s failed: %v", hook.Name, err))
			}
		case err != nil:
			// Post-hook failures log and continue.
			log.Error("Unhandled exception in post hook", "hook", hook.Label, "error", err)

			if params.OnException != nil {
				params.OnException(err)
			}
		case returned == nil:
			log.Debug("Hook did not return any samples")
		case returned.Type() == current.Type():
			merged, unionErr := current.Union(returned)
			if unionErr != nil {
				log.Error("Failed to merge hook samples", "error", unionErr)

				continue
			}

			current = merged
		default:
			log.Warn("Unexpected hook return type, keeping input samples")
		}
	}

	return current
}

// RunExceptions invokes every exception hook with the error. Exception
// hook failures are logged and swallowed.
func RunExceptions(
	ctx context.Context,
	hooks []*Hook,
	exception error,
	config *cfg.Config,
	root string,
	ts util.Timestamp,
	log *slog.Logger,
) {
	for _, hook := range Exceptions(hooks) {
		hookLog := log.With("label", hook.Label)

		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					hookLog.Error("Unhandled exception in exception hook",
						"hook", hook.Label, "error", recovered)
				}
			}()

			hook.ExceptionFunc(ctx, &ExceptionContext{
				Exception: exception,
				Config:    config,
				Timestamp: ts,
				Log:       hookLog,
				Root:      root,
			})
		}()
	}
}
