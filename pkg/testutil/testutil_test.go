package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/runner"
)

func TestComparators(t *testing.T) {
	assert.True(t, Literal("exact line").Match("exact line"))
	assert.False(t, Literal("exact line").Match("other"))

	assert.True(t, Regex(`sample \d+ done`).Match("msg=sample 42 done"))
	assert.False(t, Regex(`^\d+$`).Match("abc"))
}

func TestContainsInOrder(t *testing.T) {
	output := "alpha\nbeta\ngamma\n"

	assert.Empty(t, ContainsInOrder(output, Literal("alpha"), Literal("gamma")))
	assert.NotEmpty(t, ContainsInOrder(output, Literal("gamma"), Literal("alpha")))
	assert.NotEmpty(t, ContainsInOrder(output, Literal("delta")))
}

func TestInvocationRunsSession(t *testing.T) {
	inv := NewInvocation(t)
	inv.AddSamples("a", "b")

	inv.Runner(runner.New("work", func(_ context.Context, rinv *runner.Invocation) (*data.Samples, error) {
		rinv.Log.Info("processing samples")

		return nil, nil
	}))

	result := inv.Run(t)

	require.Equal(t, 2, result.Complete().Len())
	inv.AssertLog(t, Regex("processing samples"))
}
