package executor

import (
	"github.com/google/uuid"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
)

// Callback fires once on successful completion.
type Callback func(job *Job)

// ErrorCallback fires once on failure or termination. Callback and
// ErrorCallback are mutually exclusive per job.
type ErrorCallback func(err error)

type submitOptions struct {
	name          string
	uuid          uuid.UUID
	workdir       string
	env           map[string]string
	osEnvSet      bool
	osEnvValue    bool
	callback      Callback
	errorCallback ErrorCallback
	cpusValue     int
	memoryValue   uint64
	condaSpec     map[string]any
	wait          bool
}

func newSubmitOptions(executorName string, opts []SubmitOption) *submitOptions {
	options := &submitOptions{
		name: executorName + "_job",
		uuid: uuid.New(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

func (options *submitOptions) osEnv(config *cfg.Config) bool {
	if options.osEnvSet {
		return options.osEnvValue
	}

	return config.ExecutorOSEnv()
}

func (options *submitOptions) cpus(config *cfg.Config) int {
	if options.cpusValue > 0 {
		return options.cpusValue
	}

	return config.ExecutorCPUs()
}

func (options *submitOptions) memory(config *cfg.Config) uint64 {
	if options.memoryValue > 0 {
		return options.memoryValue
	}

	return config.ExecutorMemory()
}

// SubmitOption configures one Submit call.
type SubmitOption func(*submitOptions)

// WithName sets the job name used in workdir and log file names.
func WithName(name string) SubmitOption {
	return func(options *submitOptions) { options.name = name }
}

// WithUUID pins the job identity. A UUID may not be reused while its
// previous job is pending.
func WithUUID(id uuid.UUID) SubmitOption {
	return func(options *submitOptions) { options.uuid = id }
}

// WithWorkdir overrides the derived job workdir.
func WithWorkdir(workdir string) SubmitOption {
	return func(options *submitOptions) { options.workdir = workdir }
}

// WithEnv adds per-job environment variables on top of the shared
// executor environment.
func WithEnv(env map[string]string) SubmitOption {
	return func(options *submitOptions) { options.env = env }
}

// WithOSEnv controls OS environment inheritance, overriding the config.
func WithOSEnv(inherit bool) SubmitOption {
	return func(options *submitOptions) {
		options.osEnvSet = true
		options.osEnvValue = inherit
	}
}

// WithCallback sets the completion callback.
func WithCallback(callback Callback) SubmitOption {
	return func(options *submitOptions) { options.callback = callback }
}

// WithErrorCallback sets the failure callback.
func WithErrorCallback(callback ErrorCallback) SubmitOption {
	return func(options *submitOptions) { options.errorCallback = callback }
}

// WithCPUs overrides the config CPU default for this job.
func WithCPUs(cpus int) SubmitOption {
	return func(options *submitOptions) { options.cpusValue = cpus }
}

// WithMemory overrides the config memory default (bytes) for this job.
func WithMemory(memory uint64) SubmitOption {
	return func(options *submitOptions) { options.memoryValue = memory }
}

// WithCondaSpec bootstraps the job inside a conda environment built from
// the given spec.
func WithCondaSpec(spec map[string]any) SubmitOption {
	return func(options *submitOptions) { options.condaSpec = spec }
}

// WithWait blocks Submit until the job completes.
func WithWait() SubmitOption {
	return func(options *submitOptions) { options.wait = true }
}
