package checkpoint

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixture(t *testing.T) (string, *data.Samples) {
	t.Helper()

	workdir := t.TempDir()
	path := filepath.Join(workdir, "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))

	sample := data.NewSample("s1", path)
	sample.Processed = true

	return workdir, data.NewSamples(sample)
}

func TestStoreThenCheck(t *testing.T) {
	workdir, samples := fixture(t)
	cps := NewCheckpoints(samples, "runner.align", workdir, container.New(), discard())

	cp := cps.Get("main")
	require.NoError(t, cp.Store("arg1", 2))

	assert.True(t, cp.Check("arg1", 2))
	assert.FileExists(t, filepath.Join(workdir, ".checkpoints.runner.align.main.json"))
}

func TestCheckFailsOnDifferentArgs(t *testing.T) {
	workdir, samples := fixture(t)
	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")

	require.NoError(t, cp.Store("a"))
	assert.False(t, cp.Check("b"))
}

func TestCheckFailsOnMutation(t *testing.T) {
	workdir, samples := fixture(t)
	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")

	require.NoError(t, cp.Store())
	require.True(t, cp.Check())

	tracked := samples.At(0).Files()[0]
	require.NoError(t, os.WriteFile(tracked, []byte("changed content"), 0o600))
	// Push the mtime past the stored second.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(tracked, future, future))

	assert.False(t, cp.Check())
}

func TestCheckFailsOnPathSetChange(t *testing.T) {
	workdir, samples := fixture(t)
	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")

	require.NoError(t, cp.Store())

	extra := filepath.Join(workdir, "extra.txt")
	require.NoError(t, os.WriteFile(extra, []byte("x"), 0o600))
	cp.AddPaths(extra)

	assert.False(t, cp.Check())
}

func TestCheckFalseWithoutStore(t *testing.T) {
	workdir, samples := fixture(t)
	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")

	assert.False(t, cp.Check())
}

func TestMissingFileForcesMismatch(t *testing.T) {
	workdir, samples := fixture(t)
	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")

	ghost := filepath.Join(workdir, "ghost.txt")
	cp.AddPaths(ghost)

	require.NoError(t, cp.Store())

	// Missing files hash to random bytes, so even an immediate check fails.
	assert.False(t, cp.Check())
}

func TestOutputsTrackedByLabel(t *testing.T) {
	workdir, samples := fixture(t)

	matching := filepath.Join(workdir, "tracked.out")
	require.NoError(t, os.WriteFile(matching, []byte("x"), 0o600))
	samples.Outputs.Add(data.Output{Src: matching, Dst: "ignored", Checkpoint: "main"})

	other := filepath.Join(workdir, "other.out")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))
	samples.Outputs.Add(data.Output{Src: other, Dst: "ignored", Checkpoint: "qc"})

	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")

	assert.Contains(t, cp.Paths(), matching)
	assert.NotContains(t, cp.Paths(), other)
}

func TestDirectoryExpansion(t *testing.T) {
	workdir, samples := fixture(t)

	dir := filepath.Join(workdir, "outdir")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	inner := filepath.Join(dir, "inner.txt")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0o600))

	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")
	cp.AddPaths(dir)

	paths := cp.Paths()
	assert.Contains(t, paths, inner)
	assert.NotContains(t, paths, dir)
}

func TestHexdigestStable(t *testing.T) {
	workdir, samples := fixture(t)
	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")

	first := cp.Hexdigest("x")
	second := cp.Hexdigest("x")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, cp.Hexdigest("y"))
}

func TestPersistedAcrossInstances(t *testing.T) {
	workdir, samples := fixture(t)

	cp := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")
	require.NoError(t, cp.Store())

	reloaded := NewCheckpoints(samples, "", workdir, container.New(), discard()).Get("main")
	assert.True(t, reloaded.Check())
}
