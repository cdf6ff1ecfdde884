// Package cfg turns a JSON-Schema, a config file, environment variables,
// and CLI flags into the validated Container the engine consumes.
package cfg

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// Sentinel validation errors.
var (
	ErrMissingWorkdir = errors.New("workdir is required")
	ErrSchemaInvalid  = errors.New("configuration does not satisfy the schema")
)

// Engine configuration keys.
const (
	KeyWorkdir        = "workdir"
	KeyResultdir      = "resultdir"
	KeyLogdir         = "logdir"
	KeyTag            = "tag"
	KeySamplesFile    = "samples_file"
	KeyExecutorName   = "executor.name"
	KeyExecutorCPUs   = "executor.cpus"
	KeyExecutorMemory = "executor.memory"
	KeyExecutorEnv    = "executor.env"
	KeyExecutorOSEnv  = "executor.os_env"
)

// Config is the validated engine configuration. It embeds the Container so
// module-specific keys remain reachable with dotted paths.
type Config struct {
	*container.Container
}

// New wraps a container, applying the engine defaults that derive from
// other keys: resultdir and logdir under workdir, and a timestamp tag.
func New(cnt *container.Container, ts util.Timestamp) (*Config, error) {
	cfg := &Config{Container: cnt}

	workdir := cnt.GetString(KeyWorkdir, "")
	if workdir == "" {
		return nil, ErrMissingWorkdir
	}

	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}

	_ = cnt.Set(KeyWorkdir, abs)

	if !cnt.Has(KeyResultdir) {
		_ = cnt.Set(KeyResultdir, filepath.Join(abs, "results"))
	}

	if !cnt.Has(KeyLogdir) {
		_ = cnt.Set(KeyLogdir, filepath.Join(abs, "logs"))
	}

	if cnt.GetString(KeyTag, "") == "" {
		_ = cnt.Set(KeyTag, ts.String())
	}

	if !cnt.Has(KeyExecutorName) {
		_ = cnt.Set(KeyExecutorName, defaultExecutorName)
	}

	if !cnt.Has(KeyExecutorCPUs) {
		_ = cnt.Set(KeyExecutorCPUs, int64(defaultExecutorCPUs))
	}

	if !cnt.Has(KeyExecutorOSEnv) {
		_ = cnt.Set(KeyExecutorOSEnv, true)
	}

	return cfg, nil
}

// Workdir returns the absolute session working directory.
func (cfg *Config) Workdir() string {
	return cfg.GetString(KeyWorkdir, "")
}

// Resultdir returns the result directory (workdir/results by default).
func (cfg *Config) Resultdir() string {
	return cfg.GetString(KeyResultdir, "")
}

// Logdir returns the log directory (workdir/logs by default).
func (cfg *Config) Logdir() string {
	return cfg.GetString(KeyLogdir, "")
}

// Tag returns the session tag.
func (cfg *Config) Tag() string {
	return cfg.GetString(KeyTag, "")
}

// SamplesFile returns the samples file path, "" when none was given.
func (cfg *Config) SamplesFile() string {
	return cfg.GetString(KeySamplesFile, "")
}

// ExecutorName returns the selected executor.
func (cfg *Config) ExecutorName() string {
	return cfg.GetString(KeyExecutorName, defaultExecutorName)
}

// ExecutorCPUs returns the default per-job CPU count.
func (cfg *Config) ExecutorCPUs() int {
	return int(cfg.GetInt(KeyExecutorCPUs, defaultExecutorCPUs))
}

// ExecutorMemory returns the default per-job memory in bytes. String
// values accept humanized sizes ("16GB").
func (cfg *Config) ExecutorMemory() uint64 {
	value, err := cfg.Get(KeyExecutorMemory)
	if err != nil {
		return 0
	}

	switch typed := value.(type) {
	case int64:
		return uint64(typed)
	case float64:
		return uint64(typed)
	case string:
		parsed, parseErr := humanize.ParseBytes(typed)
		if parseErr != nil {
			return 0
		}

		return parsed
	default:
		return 0
	}
}

// ExecutorEnv returns the shared job environment.
func (cfg *Config) ExecutorEnv() map[string]string {
	return cfg.GetStringMap(KeyExecutorEnv)
}

// ExecutorOSEnv reports whether jobs inherit the OS environment.
func (cfg *Config) ExecutorOSEnv() bool {
	return cfg.GetBool(KeyExecutorOSEnv, true)
}
