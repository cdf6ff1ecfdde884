// Package modules is the registration point for pipeline modules. A module
// registers its runners, hooks, executors, and sample mixins from an init
// function (or explicitly from main); Resolve classifies the registered
// symbols, orders the hooks, and builds the composed sample type.
package modules

import (
	"fmt"
	"sync"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/hooks"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/runner"
)

// Registry collects everything modules contribute to a pipeline.
type Registry struct {
	mu sync.Mutex

	hooks         []*hooks.Hook
	runners       []*runner.Runner
	sampleMixins  []data.MixinSpec
	samplesMixins []data.MixinSpec
}

// Default is the process-wide registry modules register into from init.
var Default = &Registry{}

// RegisterHook adds a hook in load order.
func (registry *Registry) RegisterHook(hook *hooks.Hook) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.hooks = append(registry.hooks, hook)
}

// RegisterRunner adds a runner in load order.
func (registry *Registry) RegisterRunner(run *runner.Runner) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.runners = append(registry.runners, run)
}

// RegisterSampleMixin adds a mixin extending the Sample record.
func (registry *Registry) RegisterSampleMixin(mixin data.MixinSpec) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.sampleMixins = append(registry.sampleMixins, mixin)
}

// RegisterSamplesMixin adds a mixin extending the Samples collection.
func (registry *Registry) RegisterSamplesMixin(mixin data.MixinSpec) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.samplesMixins = append(registry.samplesMixins, mixin)
}

// RegisterExecutor adds an executor factory under a name.
func (registry *Registry) RegisterExecutor(name string, factory executor.Factory) {
	executor.Register(name, factory)
}

// Resolved is the classified module surface the dispatcher consumes.
type Resolved struct {
	// Hooks in dependency-resolved execution order.
	Hooks []*hooks.Hook

	// Runners in registration order.
	Runners []*runner.Runner

	// SampleType is the composed sample type with every sample- and
	// collection-level mixin applied.
	SampleType *data.SampleType
}

// Resolve orders the registered hooks and composes the sample type. Hook
// cycles and invalid declarations surface here, before any worker starts.
func (registry *Registry) Resolve() (*Resolved, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	ordered, err := hooks.Resolve(registry.hooks)
	if err != nil {
		return nil, fmt.Errorf("resolve hook dependencies: %w", err)
	}

	return &Resolved{
		Hooks:   ordered,
		Runners: append([]*runner.Runner{}, registry.runners...),
		SampleType: data.NewSampleType(registry.sampleMixins...).
			WithSamplesMixins(registry.samplesMixins...),
	}, nil
}

// Reset clears the registry. Tests use it to isolate module sets.
func (registry *Registry) Reset() {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.hooks = nil
	registry.runners = nil
	registry.sampleMixins = nil
	registry.samplesMixins = nil
}

// Package-level helpers targeting the default registry.

// RegisterHook adds a hook to the default registry.
func RegisterHook(hook *hooks.Hook) {
	Default.RegisterHook(hook)
}

// RegisterRunner adds a runner to the default registry.
func RegisterRunner(run *runner.Runner) {
	Default.RegisterRunner(run)
}

// RegisterSampleMixin adds a Sample mixin to the default registry.
func RegisterSampleMixin(mixin data.MixinSpec) {
	Default.RegisterSampleMixin(mixin)
}

// RegisterSamplesMixin adds a Samples mixin to the default registry.
func RegisterSamplesMixin(mixin data.MixinSpec) {
	Default.RegisterSamplesMixin(mixin)
}

// RegisterExecutor adds an executor factory.
func RegisterExecutor(name string, factory executor.Factory) {
	Default.RegisterExecutor(name, factory)
}
