package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/dispatcher"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/hooks"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/modules"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/runner"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// Invocation assembles a full in-process session for integration tests:
// config, registry, samples, and a captured log.
type Invocation struct {
	Registry *modules.Registry
	Config   *cfg.Config
	Samples  *data.Samples

	logBuf bytes.Buffer
	log    *slog.Logger
}

// NewInvocation builds a session fixture rooted in a temp workdir with the
// mock executor.
func NewInvocation(t *testing.T) *Invocation {
	t.Helper()

	cnt := container.New()

	err := cnt.Set(cfg.KeyWorkdir, t.TempDir())
	if err != nil {
		t.Fatalf("set workdir: %v", err)
	}

	_ = cnt.Set(cfg.KeyTag, "test")
	_ = cnt.Set(cfg.KeyExecutorName, "mock")

	config, err := cfg.New(cnt, util.NewTimestamp())
	if err != nil {
		t.Fatalf("build config: %v", err)
	}

	inv := &Invocation{
		Registry: &modules.Registry{},
		Config:   config,
		Samples:  data.NewSamples(),
	}

	inv.log = slog.New(slog.NewTextHandler(&inv.logBuf,
		&slog.HandlerOptions{Level: slog.LevelDebug}))

	return inv
}

// AddSamples appends input samples by ID.
func (inv *Invocation) AddSamples(ids ...string) []*data.Sample {
	added := make([]*data.Sample, 0, len(ids))

	for _, id := range ids {
		sample := data.NewSample(id)
		inv.Samples.Put(sample)
		added = append(added, sample)
	}

	return added
}

// Run resolves the registry and executes the session.
func (inv *Invocation) Run(t *testing.T) *data.Samples {
	t.Helper()

	resolved, err := inv.Registry.Resolve()
	if err != nil {
		t.Fatalf("resolve registry: %v", err)
	}

	samples := inv.Samples
	if samples.Type() != resolved.SampleType && samples.Len() == 0 {
		samples = resolved.SampleType.NewSamples()
	}

	dispatch := &dispatcher.Dispatcher{
		Config:       inv.Config,
		Root:         inv.Config.Workdir(),
		Timestamp:    util.NewTimestamp(),
		Hooks:        resolved.Hooks,
		Runners:      resolved.Runners,
		ExecutorImpl: executor.NewMock,
		Log:          inv.log,
	}

	result, runErr := dispatch.Run(context.Background(), samples)
	if runErr != nil {
		t.Fatalf("session failed: %v", runErr)
	}

	return result
}

// Log returns the captured session log.
func (inv *Invocation) Log() string {
	return inv.logBuf.String()
}

// AssertLog checks the captured log for the expectations, in order.
func (inv *Invocation) AssertLog(t *testing.T, expected ...Comparator) {
	t.Helper()

	if failure := ContainsInOrder(inv.Log(), expected...); failure != "" {
		t.Errorf("log mismatch: %s\nlog:\n%s", failure, inv.Log())
	}
}

// Hook registers a hook for this invocation.
func (inv *Invocation) Hook(hook *hooks.Hook) *Invocation {
	inv.Registry.RegisterHook(hook)

	return inv
}

// Runner registers a runner for this invocation.
func (inv *Invocation) Runner(run *runner.Runner) *Invocation {
	inv.Registry.RegisterRunner(run)

	return inv
}
