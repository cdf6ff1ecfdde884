package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

const testSchema = `
type: object
required: [workdir]
properties:
  workdir:
    type: string
    description: Session working directory
  tag:
    type: string
  executor:
    type: object
    properties:
      name:
        type: string
        default: local
      cpus:
        type: integer
        default: 2
      memory:
        type: string
        format: size
  qc:
    type: object
    properties:
      enabled:
        type: boolean
        default: true
      coverage:
        type: number
`

func writeSchema(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o600))

	return path
}

func TestSchemaFlags(t *testing.T) {
	schema, err := LoadSchema(writeSchema(t))
	require.NoError(t, err)

	flags := schema.Flags()

	names := make(map[string]Flag, len(flags))
	for _, flag := range flags {
		names[flag.Name()] = flag
	}

	require.Contains(t, names, "workdir")
	require.Contains(t, names, "executor_cpus")
	require.Contains(t, names, "qc_enabled")

	assert.True(t, names["workdir"].Required)
	assert.Equal(t, int64(2), names["executor_cpus"].Default)
	assert.Equal(t, "size", names["executor_memory"].Type)
	assert.Equal(t, "executor.cpus", names["executor_cpus"].DottedKey())
}

func TestLoadSchemaMissingFileSkipped(t *testing.T) {
	schema, err := LoadSchema(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, schema.Flags())
}

func TestLoadLayering(t *testing.T) {
	schemaPath := writeSchema(t)
	schema, err := LoadSchema(schemaPath)
	require.NoError(t, err)

	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile,
		[]byte("workdir: "+dir+"\nexecutor:\n  cpus: 4\n"), 0o600))

	overrides := container.New()
	require.NoError(t, overrides.Set("executor.name", "mock"))

	cfg, err := Load(schema, configFile, overrides, util.NewTimestamp())
	require.NoError(t, err)

	// Schema default survives where nothing overrode it.
	assert.True(t, cfg.GetBool("qc.enabled", false))
	// File beats schema default.
	assert.Equal(t, 4, cfg.ExecutorCPUs())
	// Override beats file.
	assert.Equal(t, "mock", cfg.ExecutorName())
}

func TestLoadValidationFailure(t *testing.T) {
	schema, err := LoadSchema(writeSchema(t))
	require.NoError(t, err)

	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	// cpus must be an integer.
	require.NoError(t, os.WriteFile(configFile,
		[]byte("workdir: "+dir+"\nexecutor:\n  cpus: not_a_number\n"), 0o600))

	_, err = Load(schema, configFile, nil, util.NewTimestamp())
	assert.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestConfigDerivedDefaults(t *testing.T) {
	dir := t.TempDir()

	cnt := container.New()
	require.NoError(t, cnt.Set(KeyWorkdir, dir))

	ts := util.TimestampAt(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))

	cfg, err := New(cnt, ts)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "results"), cfg.Resultdir())
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.Logdir())
	assert.Equal(t, "240102-030405", cfg.Tag())
	assert.Equal(t, "local", cfg.ExecutorName())
}

func TestConfigMissingWorkdir(t *testing.T) {
	_, err := New(container.New(), util.NewTimestamp())
	assert.ErrorIs(t, err, ErrMissingWorkdir)
}

func TestExecutorMemoryHumanized(t *testing.T) {
	dir := t.TempDir()

	cnt := container.New()
	require.NoError(t, cnt.Set(KeyWorkdir, dir))
	require.NoError(t, cnt.Set(KeyExecutorMemory, "2GB"))

	cfg, err := New(cnt, util.NewTimestamp())
	require.NoError(t, err)

	assert.Equal(t, uint64(2_000_000_000), cfg.ExecutorMemory())
}

func TestEnvOverrides(t *testing.T) {
	schema, err := LoadSchema(writeSchema(t))
	require.NoError(t, err)

	t.Setenv("CELLOPHANE_EXECUTOR_CPUS", "6")
	t.Setenv("CELLOPHANE_QC_ENABLED", "false")

	overrides := EnvOverrides(NewViper(), schema.Flags())

	assert.Equal(t, int64(6), overrides.GetInt("executor.cpus", 0))
	assert.False(t, overrides.GetBool("qc.enabled", true))
	assert.False(t, overrides.Has("workdir"))
}

func TestCollectOverrides(t *testing.T) {
	schema, err := LoadSchema(writeSchema(t))
	require.NoError(t, err)

	flags := schema.Flags()

	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd, flags)

	require.NoError(t, cmd.Flags().Set("executor_cpus", "8"))
	require.NoError(t, cmd.Flags().Set("no_qc_enabled", "true"))
	require.NoError(t, cmd.Flags().Set("executor_memory", "1MB"))

	overrides, err := CollectOverrides(cmd, flags)
	require.NoError(t, err)

	assert.Equal(t, int64(8), overrides.GetInt("executor.cpus", 0))
	assert.False(t, overrides.GetBool("qc.enabled", true))
	assert.Equal(t, "1MB", overrides.GetString("executor.memory", ""))
	assert.False(t, overrides.Has("workdir"))
}

func TestCollectOverridesRejectsBadSize(t *testing.T) {
	schema, err := LoadSchema(writeSchema(t))
	require.NoError(t, err)

	flags := schema.Flags()

	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd, flags)

	require.NoError(t, cmd.Flags().Set("executor_memory", "a lot"))

	_, err = CollectOverrides(cmd, flags)
	assert.Error(t, err)
}
