package executor

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment keys consumed by the bootstrap script.
const (
	condaSpecEnv = "_CONDA_ENV_SPEC"
	condaNameEnv = "_CONDA_ENV_NAME"
)

//go:embed scripts/bootstrap_micromamba.sh
var condaBootstrap []byte

// prepareConda writes the environment spec and bootstrap script into the
// job workdir, prefixes the argv with the bootstrap, and sets the
// environment keys the script expects.
func prepareConda(job *Job, spec map[string]any) error {
	specRaw, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode conda spec: %w", err)
	}

	specName := fmt.Sprintf("%s.%s.environment.yaml", job.Name, hex(job.UUID))
	specPath := filepath.Join(job.Workdir, specName)

	writeErr := os.WriteFile(specPath, specRaw, 0o600)
	if writeErr != nil {
		return fmt.Errorf("write conda spec: %w", writeErr)
	}

	bootstrapPath := filepath.Join(job.Workdir, "bootstrap_micromamba.sh")

	writeErr = os.WriteFile(bootstrapPath, condaBootstrap, 0o700)
	if writeErr != nil {
		return fmt.Errorf("write conda bootstrap: %w", writeErr)
	}

	job.Env[condaSpecEnv] = specName
	job.Env[condaNameEnv] = fmt.Sprintf("%s.%s", job.Name, hex(job.UUID))
	job.Argv = append([]string{bootstrapPath}, job.Argv...)

	return nil
}
