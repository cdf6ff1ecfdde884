// Package observability provides structured logging, the worker log queue,
// and OpenTelemetry tracing/metrics for the cellophane engine.
package observability

import "log/slog"

const (
	// defaultServiceName is the OTel resource service name.
	defaultServiceName = "cellophane"

	// defaultQueueSize bounds the worker log record queue.
	defaultQueueSize = 1024
)

// Config holds observability configuration for one session.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON switches console output to JSON.
	LogJSON bool

	// NoColor disables ANSI color on the console handler.
	NoColor bool

	// Logdir receives the per-session log file; empty disables file
	// logging.
	Logdir string

	// Tag names the session log file.
	Tag string

	// QueueSize bounds the worker log queue. Zero uses the default.
	QueueSize int

	// OTLPEndpoint is the OTLP gRPC collector address (e.g.
	// "localhost:4317"). Empty disables export; the tracer becomes no-op.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// EnableMetrics registers the prometheus exporter on the meter
	// provider.
	EnableMetrics bool
}

// DefaultConfig returns a Config with sensible defaults for zero-config
// startup.
func DefaultConfig() Config {
	return Config{
		ServiceName: defaultServiceName,
		LogLevel:    slog.LevelInfo,
		QueueSize:   defaultQueueSize,
	}
}
