package hooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cleanup"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/toposort"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

func noop(_ context.Context, _ *Invocation) (*data.Samples, error) {
	return nil, nil
}

func names(hooks []*Hook) []string {
	result := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		result = append(result, hook.Name)
	}

	return result
}

func position(hooks []*Hook, name string) int {
	for idx, hook := range hooks {
		if hook.Name == name {
			return idx
		}
	}

	return -1
}

func TestResolveNameDependencies(t *testing.T) {
	registered := []*Hook{
		NewPre("h2", noop, After(OnHook("h1"))),
		NewPre("h1", noop),
		NewPre("h3", noop, After(OnHook("h2"))),
	}

	resolved, err := Resolve(registered)
	require.NoError(t, err)

	assert.Equal(t, []string{"h1", "h2", "h3"}, names(resolved))
}

func TestResolveAllAnchors(t *testing.T) {
	// h1 before h2; h2 before everything else but after h1; h3 after
	// everything.
	registered := []*Hook{
		NewPre("h1", noop, Before(OnHook("h2"))),
		NewPre("h2", noop, After(OnHook("h1")), Before(All)),
		NewPre("h3", noop, After(All)),
		NewPre("plain", noop),
	}

	resolved, err := Resolve(registered)
	require.NoError(t, err)

	assert.Less(t, position(resolved, "h1"), position(resolved, "h2"))
	assert.Less(t, position(resolved, "h2"), position(resolved, "plain"))
	assert.Greater(t, position(resolved, "h3"), position(resolved, "plain"))
	assert.Greater(t, position(resolved, "h3"), position(resolved, "h2"))
}

func TestResolveStableRegistrationOrder(t *testing.T) {
	registered := []*Hook{
		NewPre("zebra", noop),
		NewPre("alpha", noop),
		NewPre("mango", noop),
	}

	resolved, err := Resolve(registered)
	require.NoError(t, err)

	assert.Equal(t, []string{"zebra", "alpha", "mango"}, names(resolved))
}

func TestResolveStageDependencies(t *testing.T) {
	registered := []*Hook{
		NewPre("late", noop, After(OnStage(OutputFinalized))),
		NewPre("early", noop, Before(OnStage(SamplesFinalized))),
	}

	resolved, err := Resolve(registered)
	require.NoError(t, err)

	assert.Less(t, position(resolved, "early"), position(resolved, "late"))
}

func TestResolveCycle(t *testing.T) {
	registered := []*Hook{
		NewPre("a", noop, Before(OnHook("b"))),
		NewPre("b", noop, Before(OnHook("a"))),
	}

	_, err := Resolve(registered)

	var cycleErr *toposort.CycleError

	assert.ErrorAs(t, err, &cycleErr)
}

func TestResolveRejectsForbiddenStageDeps(t *testing.T) {
	_, err := Resolve([]*Hook{
		NewPre("bad", noop, After(OnStage(OutputTransfered))),
	})
	assert.ErrorIs(t, err, ErrInvalidStageDep)

	_, err = Resolve([]*Hook{
		NewPost("bad", noop, After(OnStage(SamplesPresent))),
	})
	assert.ErrorIs(t, err, ErrInvalidStageDep)

	_, err = Resolve([]*Hook{
		NewPost("bad", noop, Before(OnStage(FilesFinalized))),
	})
	assert.ErrorIs(t, err, ErrInvalidStageDep)
}

func TestValidatePer(t *testing.T) {
	err := NewPre("bad", noop, WithPer(Sample)).Validate()
	assert.ErrorIs(t, err, ErrInvalidPer)

	err = NewException("bad", func(context.Context, *ExceptionContext) {},
		WithPer(Runner)).Validate()
	assert.ErrorIs(t, err, ErrInvalidPer)

	assert.NoError(t, NewPost("ok", noop, WithPer(Sample)).Validate())
}

func phaseParams(t *testing.T, registered []*Hook, samples *data.Samples, when When) PhaseParams {
	t.Helper()

	cnt := container.New()
	require.NoError(t, cnt.Set(cfg.KeyWorkdir, t.TempDir()))

	config, err := cfg.New(cnt, util.NewTimestamp())
	require.NoError(t, err)

	return PhaseParams{
		Hooks:        registered,
		When:         when,
		Per:          Session,
		Samples:      samples,
		Config:       config,
		Root:         t.TempDir(),
		Timestamp:    util.NewTimestamp(),
		Cleaner:      cleanup.NewCleaner(config.Workdir()),
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		ExecutorImpl: executor.NewMock,
	}
}

func TestRunPhaseConditionGating(t *testing.T) {
	done := data.NewSample("done")
	done.Processed = true

	failed := data.NewSample("failed")
	failed.Processed = true
	failed.Fail("X")

	samples := data.NewSamples(done, failed)

	var seenComplete, seenFailed, seenAlways []string

	registered := []*Hook{
		NewPost("on_complete", func(_ context.Context, inv *Invocation) (*data.Samples, error) {
			seenComplete = inv.Samples.UniqueIDs()

			return nil, nil
		}, WithCondition(Complete)),
		NewPost("on_failed", func(_ context.Context, inv *Invocation) (*data.Samples, error) {
			seenFailed = inv.Samples.UniqueIDs()

			return nil, nil
		}, WithCondition(Failed)),
		NewPost("always", func(_ context.Context, inv *Invocation) (*data.Samples, error) {
			seenAlways = inv.Samples.UniqueIDs()

			return nil, nil
		}),
	}

	RunPhase(context.Background(), phaseParams(t, registered, samples, Post))

	assert.Equal(t, []string{"done"}, seenComplete)
	assert.Equal(t, []string{"failed"}, seenFailed)
	assert.ElementsMatch(t, []string{"done", "failed"}, seenAlways)
}

func TestRunPhaseSkipsEmptyCondition(t *testing.T) {
	done := data.NewSample("done")
	done.Processed = true

	invoked := false

	registered := []*Hook{
		NewPost("on_failed", func(context.Context, *Invocation) (*data.Samples, error) {
			invoked = true

			return nil, nil
		}, WithCondition(Failed)),
	}

	RunPhase(context.Background(), phaseParams(t, registered, data.NewSamples(done), Post))

	assert.False(t, invoked)
}

func TestRunPhaseUnionRule(t *testing.T) {
	touched := data.NewSample("touched")
	untouched := data.NewSample("untouched")
	samples := data.NewSamples(touched, untouched)

	registered := []*Hook{
		NewPre("mutate", func(_ context.Context, inv *Invocation) (*data.Samples, error) {
			// Return a modified copy of only the first sample.
			view, _ := inv.Samples.ByUUID(touched.UUID())
			modified := view.Copy()
			modified.AddFiles("added.txt")

			return inv.Samples.Type().NewSamples(modified), nil
		}),
	}

	result := RunPhase(context.Background(), phaseParams(t, registered, samples, Pre))

	require.Equal(t, 2, result.Len())

	got, ok := result.ByUUID(touched.UUID())
	require.True(t, ok)
	assert.Equal(t, []string{"added.txt"}, got.Files())

	passthrough, ok := result.ByUUID(untouched.UUID())
	require.True(t, ok)
	assert.Empty(t, passthrough.Files())
}

func TestRunPhasePreFailureFailsSamples(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"), data.NewSample("b"))

	var routed error

	registered := []*Hook{
		NewPre("boom", func(context.Context, *Invocation) (*data.Samples, error) {
			return nil, errors.New("exploded")
		}),
	}

	params := phaseParams(t, registered, samples, Pre)
	params.OnException = func(err error) { routed = err }

	result := RunPhase(context.Background(), params)

	require.Error(t, routed)

	for _, sample := range result.All() {
		assert.Contains(t, sample.FailReason(), "Hook boom failed")
	}
}

func TestRunPhasePostFailureContinues(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"))

	order := make([]string, 0, 2)

	registered := []*Hook{
		NewPost("first", func(context.Context, *Invocation) (*data.Samples, error) {
			order = append(order, "first")

			return nil, errors.New("post failure")
		}),
		NewPost("second", func(context.Context, *Invocation) (*data.Samples, error) {
			order = append(order, "second")

			return nil, nil
		}, After(OnHook("first"))),
	}

	result := RunPhase(context.Background(), phaseParams(t, registered, samples, Post))

	assert.Equal(t, []string{"first", "second"}, order)
	// Post failures never fail samples.
	assert.Empty(t, result.At(0).FailReason())
}

func TestRunPhasePanicContained(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"))

	registered := []*Hook{
		NewPre("panics", func(context.Context, *Invocation) (*data.Samples, error) {
			panic("kaboom")
		}),
	}

	result := RunPhase(context.Background(), phaseParams(t, registered, samples, Pre))

	assert.Contains(t, result.At(0).FailReason(), "Hook panics failed")
}

func TestRunExceptionsSwallowsPanics(t *testing.T) {
	invoked := 0

	registered := []*Hook{
		NewException("first", func(context.Context, *ExceptionContext) {
			invoked++
			panic("inside exception hook")
		}),
		NewException("second", func(_ context.Context, ectx *ExceptionContext) {
			invoked++
			assert.EqualError(t, ectx.Exception, "original")
		}),
	}

	cnt := container.New()
	require.NoError(t, cnt.Set(cfg.KeyWorkdir, t.TempDir()))
	config, err := cfg.New(cnt, util.NewTimestamp())
	require.NoError(t, err)

	RunExceptions(context.Background(), registered, errors.New("original"),
		config, t.TempDir(), util.NewTimestamp(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, 2, invoked)
}
