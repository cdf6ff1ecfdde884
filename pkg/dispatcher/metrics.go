package dispatcher

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sessionMetrics holds the engine counters. All methods tolerate a nil
// receiver so metrics stay optional.
type sessionMetrics struct {
	runnerInvocations metric.Int64Counter
	samplesComplete   metric.Int64Counter
	samplesFailed     metric.Int64Counter
}

func newSessionMetrics(meter metric.Meter) *sessionMetrics {
	if meter == nil {
		return nil
	}

	metrics := &sessionMetrics{}

	metrics.runnerInvocations, _ = meter.Int64Counter(
		"cellophane.runner.invocations",
		metric.WithDescription("Runner invocations, one per (runner, split group)"))

	metrics.samplesComplete, _ = meter.Int64Counter(
		"cellophane.samples.complete",
		metric.WithDescription("Samples that finished without failure"))

	metrics.samplesFailed, _ = meter.Int64Counter(
		"cellophane.samples.failed",
		metric.WithDescription("Samples that ended with a failure reason"))

	return metrics
}

func (metrics *sessionMetrics) recordRunner(ctx context.Context, name string) {
	if metrics == nil || metrics.runnerInvocations == nil {
		return
	}

	metrics.runnerInvocations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("runner", name)))
}

func (metrics *sessionMetrics) recordOutcome(ctx context.Context, complete, failed int) {
	if metrics == nil {
		return
	}

	if metrics.samplesComplete != nil {
		metrics.samplesComplete.Add(ctx, int64(complete))
	}

	if metrics.samplesFailed != nil {
		metrics.samplesFailed.Add(ctx, int64(failed))
	}
}
