package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/hooks"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/runner"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/toposort"
)

func noop(context.Context, *hooks.Invocation) (*data.Samples, error) {
	return nil, nil
}

func TestResolveOrdersHooks(t *testing.T) {
	registry := &Registry{}

	registry.RegisterHook(hooks.NewPre("second", noop, hooks.After(hooks.OnHook("first"))))
	registry.RegisterHook(hooks.NewPre("first", noop))
	registry.RegisterRunner(runner.New("work", func(context.Context, *runner.Invocation) (*data.Samples, error) {
		return nil, nil
	}))

	resolved, err := registry.Resolve()
	require.NoError(t, err)

	require.Len(t, resolved.Hooks, 2)
	assert.Equal(t, "first", resolved.Hooks[0].Name)
	assert.Equal(t, "second", resolved.Hooks[1].Name)
	assert.Len(t, resolved.Runners, 1)
}

func TestResolveComposedSampleType(t *testing.T) {
	registry := &Registry{}

	registry.RegisterSampleMixin(data.MixinSpec{
		Name:   "lane",
		Fields: []data.FieldSpec{{Name: "lane", Default: "L1"}},
	})
	registry.RegisterSamplesMixin(data.MixinSpec{
		Name:   "flowcell",
		Fields: []data.FieldSpec{{Name: "flowcell", Default: "FC0"}},
	})

	resolved, err := registry.Resolve()
	require.NoError(t, err)

	sample := resolved.SampleType.NewSample("s1")
	assert.Equal(t, "L1", sample.Extra["lane"])

	collection := resolved.SampleType.NewSamples(sample)
	assert.Equal(t, "FC0", collection.Extra["flowcell"])
}

func TestResolveSurfacesCycles(t *testing.T) {
	registry := &Registry{}

	registry.RegisterHook(hooks.NewPre("a", noop, hooks.Before(hooks.OnHook("b"))))
	registry.RegisterHook(hooks.NewPre("b", noop, hooks.Before(hooks.OnHook("a"))))

	_, err := registry.Resolve()

	var cycleErr *toposort.CycleError

	assert.ErrorAs(t, err, &cycleErr)
}

func TestReset(t *testing.T) {
	registry := &Registry{}
	registry.RegisterHook(hooks.NewPre("x", noop))
	registry.Reset()

	resolved, err := registry.Resolve()
	require.NoError(t, err)
	assert.Empty(t, resolved.Hooks)
}
