package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/hooks"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/runner"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

func testDispatcher(t *testing.T, registered []*hooks.Hook, runners ...*runner.Runner) *Dispatcher {
	t.Helper()

	cnt := container.New()
	require.NoError(t, cnt.Set(cfg.KeyWorkdir, t.TempDir()))
	require.NoError(t, cnt.Set(cfg.KeyTag, "test"))

	config, err := cfg.New(cnt, util.NewTimestamp())
	require.NoError(t, err)

	resolved, err := hooks.Resolve(registered)
	require.NoError(t, err)

	return &Dispatcher{
		Config:       config,
		Root:         t.TempDir(),
		Timestamp:    util.NewTimestamp(),
		Hooks:        resolved,
		Runners:      runners,
		ExecutorImpl: executor.NewMock,
		Log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// S1: both samples processed, none failed.
func TestRunHappyPath(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"), data.NewSample("b"))

	process := runner.New("process", func(context.Context, *runner.Invocation) (*data.Samples, error) {
		return nil, nil
	})

	result, err := testDispatcher(t, nil, process).Run(context.Background(), samples)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Complete().Len())
	assert.Zero(t, result.Failed().Len())
}

// S2: explicit failure routes to condition-gated per-sample post-hooks.
func TestRunPartialFail(t *testing.T) {
	pass := data.NewSample("pass")
	fail := data.NewSample("fail")
	samples := data.NewSamples(pass, fail)

	var mu sync.Mutex

	completeCalls := make([][]string, 0)
	failedCalls := make([][]string, 0)

	registered := []*hooks.Hook{
		hooks.NewPost("on_complete", func(_ context.Context, inv *hooks.Invocation) (*data.Samples, error) {
			mu.Lock()
			defer mu.Unlock()
			completeCalls = append(completeCalls, inv.Samples.UniqueIDs())

			return nil, nil
		}, hooks.WithPer(hooks.Sample), hooks.WithCondition(hooks.Complete)),
		hooks.NewPost("on_failed", func(_ context.Context, inv *hooks.Invocation) (*data.Samples, error) {
			mu.Lock()
			defer mu.Unlock()
			failedCalls = append(failedCalls, inv.Samples.UniqueIDs())

			return nil, nil
		}, hooks.WithPer(hooks.Sample), hooks.WithCondition(hooks.Failed)),
	}

	failer := runner.New("failer", func(_ context.Context, inv *runner.Invocation) (*data.Samples, error) {
		view, _ := inv.Samples.ByUUID(fail.UUID())
		view.Fail("X")

		return inv.Samples, nil
	})

	result, err := testDispatcher(t, registered, failer).Run(context.Background(), samples)
	require.NoError(t, err)

	failedSet := result.Failed()
	require.Equal(t, 1, failedSet.Len())
	assert.Equal(t, "fail", failedSet.At(0).ID)
	assert.Equal(t, "X", failedSet.At(0).FailReason())

	assert.Equal(t, []string{"pass"}, result.Complete().UniqueIDs())

	assert.Equal(t, [][]string{{"pass"}}, completeCalls)
	assert.Equal(t, [][]string{{"fail"}}, failedCalls)
}

// S3: two runners touching one sample merge files order-preserving and the
// per-sample post-hook fires exactly once.
func TestRunTwoRunnersMerge(t *testing.T) {
	sample := data.NewSample("x")
	samples := data.NewSamples(sample)

	var mu sync.Mutex

	invocations := 0

	registered := []*hooks.Hook{
		hooks.NewPost("per_sample", func(context.Context, *hooks.Invocation) (*data.Samples, error) {
			mu.Lock()
			defer mu.Unlock()
			invocations++

			return nil, nil
		}, hooks.WithPer(hooks.Sample)),
	}

	appendFile := func(path string) runner.MainFunc {
		return func(_ context.Context, inv *runner.Invocation) (*data.Samples, error) {
			inv.Samples.At(0).AddFiles(path)

			return inv.Samples, nil
		}
	}

	dispatch := testDispatcher(t, registered,
		runner.New("runner_a", appendFile("fa.txt")),
		runner.New("runner_b", appendFile("fb.txt")))
	// Serialize the runners so the merge order is deterministic.
	dispatch.Workers = 1

	result, err := dispatch.Run(context.Background(), samples)
	require.NoError(t, err)

	require.Equal(t, 1, result.Len())
	assert.ElementsMatch(t, []string{"fa.txt", "fb.txt"}, result.At(0).Files())
	assert.Equal(t, []string{"fa.txt", "fb.txt"}, result.At(0).Files())
	assert.Equal(t, 1, invocations)
	assert.Zero(t, result.Failed().Len())
}

// S4: hook ordering across the session.
func TestRunHookOrdering(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"))

	var mu sync.Mutex

	sequence := make([]string, 0, 4)

	mark := func(name string) hooks.Func {
		return func(context.Context, *hooks.Invocation) (*data.Samples, error) {
			mu.Lock()
			defer mu.Unlock()
			sequence = append(sequence, name)

			return nil, nil
		}
	}

	registered := []*hooks.Hook{
		hooks.NewPre("h1", mark("h1"), hooks.Before(hooks.OnHook("h2"))),
		hooks.NewPre("h2", mark("h2"), hooks.After(hooks.OnHook("h1")), hooks.Before(hooks.All)),
		hooks.NewPost("h3", mark("h3"), hooks.After(hooks.All)),
	}

	work := runner.New("work", func(context.Context, *runner.Invocation) (*data.Samples, error) {
		mu.Lock()
		defer mu.Unlock()
		sequence = append(sequence, "runner")

		return nil, nil
	})

	_, err := testDispatcher(t, registered, work).Run(context.Background(), samples)
	require.NoError(t, err)

	assert.Equal(t, []string{"h1", "h2", "runner", "h3"}, sequence)
}

// S5: a runner error fails every sample in its subset and fires exception
// hooks.
func TestRunRunnerException(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"), data.NewSample("b"))

	var mu sync.Mutex

	var captured error

	registered := []*hooks.Hook{
		hooks.NewException("capture", func(_ context.Context, ectx *hooks.ExceptionContext) {
			mu.Lock()
			defer mu.Unlock()
			captured = ectx.Exception
		}),
	}

	boom := runner.New("boom", func(context.Context, *runner.Invocation) (*data.Samples, error) {
		return nil, errors.New("boom")
	})

	result, err := testDispatcher(t, registered, boom).Run(context.Background(), samples)
	require.NoError(t, err)

	require.Equal(t, 2, result.Failed().Len())

	for _, sample := range result.All() {
		assert.Contains(t, sample.FailReason(), "Unhandled exception in runner")
	}

	require.Error(t, captured)
	assert.Contains(t, captured.Error(), "boom")
}

// S6: cancellation mid-run fails remaining samples and still runs session
// post-hooks on the partial aggregate.
func TestRunInterrupted(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"))

	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex

	postRan := false

	registered := []*hooks.Hook{
		hooks.NewPost("session_post", func(context.Context, *hooks.Invocation) (*data.Samples, error) {
			mu.Lock()
			defer mu.Unlock()
			postRan = true

			return nil, nil
		}),
	}

	slow := runner.New("slow", func(runCtx context.Context, _ *runner.Invocation) (*data.Samples, error) {
		cancel()
		<-runCtx.Done()

		return nil, runCtx.Err()
	})

	result, err := testDispatcher(t, registered, slow).Run(ctx, samples)

	assert.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, postRan)
	require.Equal(t, 1, result.Failed().Len())
	assert.Equal(t, "Runner 'slow' was interrupted", result.At(0).FailReason())
}

func TestRunSplitBy(t *testing.T) {
	typ := data.NewSampleType(data.MixinSpec{
		Name:   "lanes",
		Fields: []data.FieldSpec{{Name: "lane", Default: ""}},
	})

	first := typ.NewSample("s1")
	first.Extra["lane"] = "L1"
	second := typ.NewSample("s2")
	second.Extra["lane"] = "L1"
	third := typ.NewSample("s3")
	third.Extra["lane"] = "L2"

	samples := typ.NewSamples(first, second, third)

	var mu sync.Mutex

	groups := make(map[string]int)

	split := runner.New("split", func(_ context.Context, inv *runner.Invocation) (*data.Samples, error) {
		mu.Lock()
		defer mu.Unlock()
		groups[inv.Group] = inv.Samples.Len()

		return nil, nil
	}, runner.WithSplitBy("lane"))

	result, err := testDispatcher(t, nil, split).Run(context.Background(), samples)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"L1": 2, "L2": 1}, groups)
	assert.Equal(t, 3, result.Complete().Len())
}

func TestRunNoRunnersFailsSamples(t *testing.T) {
	samples := data.NewSamples(data.NewSample("a"))

	result, err := testDispatcher(t, nil).Run(context.Background(), samples)
	require.NoError(t, err)

	require.Equal(t, 1, result.Failed().Len())
	assert.Equal(t, data.FailReasonUnprocessed, result.At(0).Failed())
}

func TestRunMergeFailureAppendsAndFails(t *testing.T) {
	boom := errors.New("merge exploded")

	typ := data.NewSampleType(data.MixinSpec{
		Name: "fragile",
		Fields: []data.FieldSpec{{
			Name:    "fragile",
			Default: 0,
			Merge: func(a, b any) (any, error) {
				left, _ := a.(int)
				right, _ := b.(int)

				if left != 0 && right != 0 {
					return nil, boom
				}

				return left + right, nil
			},
		}},
	})

	sample := typ.NewSample("x")
	samples := typ.NewSamples(sample)

	poison := func(_ context.Context, inv *runner.Invocation) (*data.Samples, error) {
		view, _ := inv.Samples.ByUUID(sample.UUID())
		view.Extra["fragile"] = 1

		return inv.Samples, nil
	}

	dispatch := testDispatcher(t, nil,
		runner.New("first", poison),
		runner.New("second", poison))
	dispatch.Workers = 1

	result, err := dispatch.Run(context.Background(), samples)
	require.NoError(t, err)

	// The sample survives in the aggregate, failed with the merge error.
	require.True(t, result.Has(sample.UUID()))

	merged, _ := result.ByUUID(sample.UUID())
	assert.Contains(t, merged.FailReason(), "merge exploded")
}
