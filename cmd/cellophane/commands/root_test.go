package commands

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
)

func TestEngineSchemaFlags(t *testing.T) {
	schema, err := cfg.LoadSchemaBytes([]byte(engineSchema))
	require.NoError(t, err)

	names := make(map[string]cfg.Flag)
	for _, flag := range schema.Flags() {
		names[flag.Name()] = flag
	}

	for _, expected := range []string{
		"workdir", "resultdir", "logdir", "tag", "samples_file",
		"config_file", "executor_name", "executor_cpus", "executor_memory",
	} {
		assert.Contains(t, names, expected)
	}

	assert.True(t, names["workdir"].Required)
	assert.Equal(t, "size", names["executor_memory"].Type)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything"))
}

func TestPrintSummary(t *testing.T) {
	done := data.NewSample("done")
	done.Processed = true

	failed := data.NewSample("failed")
	failed.Fail("broke")

	var buf bytes.Buffer

	printSummary(&buf, data.NewSamples(done, failed), true)

	out := buf.String()
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "broke")
}

func TestPrintSummaryEmpty(t *testing.T) {
	var buf bytes.Buffer

	printSummary(&buf, data.NewSamples(), true)

	assert.Empty(t, buf.String())
}
