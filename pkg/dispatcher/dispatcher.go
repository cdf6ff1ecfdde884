// Package dispatcher runs a whole session: session pre-hooks, parallel
// runner fan-out, result aggregation with per-sample post-hook scheduling,
// session post-hooks, exception routing, and final cleanup.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cleanup"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/hooks"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/runner"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// ErrInterrupted is returned when the session was cut short by SIGINT; the
// CLI maps it to exit code 130.
var ErrInterrupted = errors.New("session interrupted")

// tracerName is the default OTel tracer name for the engine.
const tracerName = "cellophane"

// Dispatcher sequences one pipeline session.
type Dispatcher struct {
	Config    *cfg.Config
	Root      string
	Timestamp util.Timestamp

	// Hooks is the resolved hook list (hooks.Resolve order).
	Hooks []*hooks.Hook

	// Runners fan out over split groups in a worker pool.
	Runners []*runner.Runner

	// ExecutorImpl builds the executor for runners and hooks.
	ExecutorImpl executor.Factory

	Log *slog.Logger

	// Workers bounds the runner pool. Zero means NumCPU.
	Workers int

	// Tracer creates session spans. When nil, the global provider is
	// used.
	Tracer trace.Tracer

	// Meter records engine counters. Nil disables metrics.
	Meter metric.Meter

	metrics *sessionMetrics

	samplesMu sync.Mutex
	cleanerMu sync.Mutex
	excMu     sync.Mutex
}

func (dispatcher *Dispatcher) tracer() trace.Tracer {
	if dispatcher.Tracer != nil {
		return dispatcher.Tracer
	}

	return otel.Tracer(tracerName)
}

// routeException serializes exception-hook invocations.
func (dispatcher *Dispatcher) routeException(ctx context.Context, exception error) {
	dispatcher.excMu.Lock()
	defer dispatcher.excMu.Unlock()

	hooks.RunExceptions(ctx, dispatcher.Hooks, exception,
		dispatcher.Config, dispatcher.Root, dispatcher.Timestamp, dispatcher.Log)
}

// runnerJob is one (runner, split group) work unit.
type runnerJob struct {
	run    *runner.Runner
	group  string
	subset *data.Samples
}

// Run executes the session and returns the final aggregate samples.
// Sample-level failures do not produce an error; ErrInterrupted reports a
// SIGINT session.
func (dispatcher *Dispatcher) Run(ctx context.Context, samples *data.Samples) (*data.Samples, error) {
	sessionCtx, span := dispatcher.tracer().Start(ctx, "session",
		trace.WithAttributes(
			attribute.Int("samples", samples.Len()),
			attribute.Int("runners", len(dispatcher.Runners)),
		))
	defer span.End()

	dispatcher.metrics = newSessionMetrics(dispatcher.Meter)

	cleaner := cleanup.NewCleaner(dispatcher.Config.Workdir())

	afterPre := dispatcher.runSessionHooks(sessionCtx, hooks.Pre, samples, cleaner)

	result := dispatcher.startRunners(sessionCtx, afterPre, cleaner)

	if result.Len() == 0 {
		result = afterPre
	}

	result = dispatcher.runSessionHooks(sessionCtx, hooks.Post, result, cleaner)

	cleaner.Clean(dispatcher.Log)

	complete := result.Complete().Len()
	failed := result.Failed().Len()

	dispatcher.metrics.recordOutcome(sessionCtx, complete, failed)
	span.SetAttributes(
		attribute.Int("complete", complete),
		attribute.Int("failed", failed),
	)

	if sessionCtx.Err() != nil {
		return result, ErrInterrupted
	}

	return result, nil
}

// runSessionHooks runs one session-scope hook phase. Hook bodies observe a
// cancelled context during shutdown but the phase itself still runs, so
// post-hooks fire on partial aggregates.
func (dispatcher *Dispatcher) runSessionHooks(
	ctx context.Context,
	when hooks.When,
	samples *data.Samples,
	cleaner *cleanup.Cleaner,
) *data.Samples {
	phaseCtx, span := dispatcher.tracer().Start(ctx, when.String()+"-hooks")
	defer span.End()

	return hooks.RunPhase(phaseCtx, hooks.PhaseParams{
		Hooks:        dispatcher.Hooks,
		When:         when,
		Per:          hooks.Session,
		Samples:      samples,
		Config:       dispatcher.Config,
		Root:         dispatcher.Root,
		Timestamp:    dispatcher.Timestamp,
		Cleaner:      cleaner,
		Log:          dispatcher.Log,
		ExecutorImpl: dispatcher.ExecutorImpl,
		OnException: func(err error) {
			dispatcher.routeException(phaseCtx, err)
		},
	})
}

// startRunners fans the sample set out over every (runner, split group)
// pair on a bounded pool and aggregates the results.
func (dispatcher *Dispatcher) startRunners(
	ctx context.Context,
	samples *data.Samples,
	cleaner *cleanup.Cleaner,
) *data.Samples {
	if samples.Len() == 0 {
		dispatcher.Log.Warn("No samples to process")

		return samples
	}

	if len(dispatcher.Runners) == 0 {
		dispatcher.Log.Warn("No runners to execute")

		failed := samples.Copy()
		for _, sample := range failed.All() {
			sample.Fail(data.FailReasonUnprocessed)
		}

		return failed
	}

	jobs := make([]runnerJob, 0, len(dispatcher.Runners))
	counts := make(map[string]int, samples.Len())

	for _, run := range dispatcher.Runners {
		groups := []data.Group{{Key: "", Samples: samples}}
		if run.SplitBy != "" {
			groups = samples.Split(run.SplitBy)
		}

		for _, group := range groups {
			jobs = append(jobs, runnerJob{run: run, group: group.Key, subset: group.Samples})

			for _, sample := range group.Samples.All() {
				counts[sample.UUID().String()]++
			}
		}
	}

	result := samples.Type().NewSamples()

	workers := dispatcher.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	pool, poolCtx := errgroup.WithContext(ctx)
	pool.SetLimit(workers)

	for _, job := range jobs {
		pool.Go(func() error {
			runCtx, runSpan := dispatcher.tracer().Start(poolCtx, "runner",
				trace.WithAttributes(
					attribute.String("runner", job.run.Name),
					attribute.String("group", job.group),
				))
			defer runSpan.End()

			dispatcher.metrics.recordRunner(runCtx, job.run.Name)

			returned, deferred := job.run.Invoke(runCtx, runner.Request{
				Samples:      job.subset,
				Config:       dispatcher.Config,
				Root:         dispatcher.Root,
				Timestamp:    dispatcher.Timestamp,
				Workdir:      runner.Workdir(dispatcher.Config, job.run.Name, job.group),
				Group:        job.group,
				Hooks:        dispatcher.Hooks,
				ExecutorImpl: dispatcher.ExecutorImpl,
				Log:          dispatcher.Log,
				OnException: func(err error) {
					dispatcher.routeException(runCtx, err)
				},
			})

			dispatcher.runnerCallback(ctx, returned, deferred, result, counts, cleaner)

			return nil
		})
	}

	_ = pool.Wait()

	return result
}

// runnerCallback absorbs one runner result: merge the deferred cleaner,
// merge the returned samples into the aggregate, and fire per-sample
// post-hooks for every sample whose last runner just finished.
func (dispatcher *Dispatcher) runnerCallback(
	ctx context.Context,
	returned *data.Samples,
	deferred *cleanup.Deferred,
	result *data.Samples,
	counts map[string]int,
	cleaner *cleanup.Cleaner,
) {
	dispatcher.cleanerMu.Lock()
	cleaner.Merge(deferred)
	dispatcher.cleanerMu.Unlock()

	ready := make([]*data.Sample, 0)

	dispatcher.samplesMu.Lock()

	mergeErr := mergeInto(result, returned)
	if mergeErr != nil {
		dispatcher.Log.Error("Unhandled exception when merging samples", "error", mergeErr)

		// Keep the aggregate complete: append whatever is missing and
		// mark everything this runner touched as failed.
		for _, sample := range returned.All() {
			existing, present := result.ByUUID(sample.UUID())
			if !present {
				existing = sample.Copy()
				result.Put(existing)
			}

			existing.Fail(mergeErr.Error())
		}
	}

	for _, sample := range returned.All() {
		key := sample.UUID().String()

		counts[key]--
		if counts[key] == 0 {
			if merged, present := result.ByUUID(sample.UUID()); present {
				ready = append(ready, merged)
			}
		}
	}

	dispatcher.samplesMu.Unlock()

	if mergeErr != nil {
		dispatcher.routeException(ctx, mergeErr)
	}

	for _, sample := range ready {
		dispatcher.runSampleHooks(ctx, sample, result, cleaner)
	}
}

// mergeInto merges the returned samples into the aggregate in place:
// matching UUIDs merge field by field, new UUIDs append.
func mergeInto(result, returned *data.Samples) error {
	merged, err := result.Merge(returned)
	if err != nil {
		return err
	}

	for _, sample := range merged.All() {
		result.Put(sample)
	}

	for _, sample := range returned.All() {
		if !result.Has(sample.UUID()) {
			result.Put(sample.Copy())
		}
	}

	result.Outputs.Add(returned.Outputs.Entries()...)

	return nil
}

// lockedLedger guards the aggregate cleaner when per-sample hooks run
// concurrently with later runner callbacks.
type lockedLedger struct {
	mu    *sync.Mutex
	inner cleanup.Ledger
}

func (ledger *lockedLedger) Register(path string) error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	return ledger.inner.Register(path)
}

func (ledger *lockedLedger) RegisterOutsideRoot(path string) error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	return ledger.inner.RegisterOutsideRoot(path)
}

func (ledger *lockedLedger) Unregister(path string) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	ledger.inner.Unregister(path)
}

// runSampleHooks fires the per-sample post-hooks for one finished sample
// and folds any mutations back into the aggregate.
func (dispatcher *Dispatcher) runSampleHooks(
	ctx context.Context,
	sample *data.Sample,
	result *data.Samples,
	cleaner *cleanup.Cleaner,
) {
	view := result.Type().NewSamples(sample.Copy())

	after := hooks.RunPhase(ctx, hooks.PhaseParams{
		Hooks:        dispatcher.Hooks,
		When:         hooks.Post,
		Per:          hooks.Sample,
		Samples:      view,
		Config:       dispatcher.Config,
		Root:         dispatcher.Root,
		Timestamp:    dispatcher.Timestamp,
		Cleaner:      &lockedLedger{mu: &dispatcher.cleanerMu, inner: cleaner},
		Log:          dispatcher.Log,
		ExecutorImpl: dispatcher.ExecutorImpl,
		OnException: func(err error) {
			dispatcher.routeException(ctx, err)
		},
	})

	dispatcher.samplesMu.Lock()
	defer dispatcher.samplesMu.Unlock()

	// The view started as a copy of the aggregate record, so the hook
	// result replaces that record instead of merging into it.
	for _, hooked := range after.All() {
		result.Put(hooked)
	}

	result.Outputs.Add(after.Outputs.Entries()...)
}
