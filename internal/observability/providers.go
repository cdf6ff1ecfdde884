package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Providers bundles the initialized observability handles for one session.
type Providers struct {
	// Queue is the worker log queue; session components log through it.
	Queue *LogQueue

	// Tracer creates engine spans.
	Tracer trace.Tracer

	// Meter creates engine instruments.
	Meter metric.Meter

	// Registry is the prometheus registry backing the meter, nil when
	// metrics are disabled.
	Registry *promclient.Registry

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logFile        *os.File
}

// Init wires logging, tracing, and metrics for a session.
func Init(cfg Config) (*Providers, error) {
	providers := &Providers{}

	sinks := make([]slog.Handler, 0, 2)

	if cfg.LogJSON {
		sinks = append(sinks,
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	} else {
		if cfg.NoColor {
			color.NoColor = true
		}

		sinks = append(sinks, NewConsoleHandler(os.Stderr, cfg.LogLevel))
	}

	if cfg.Logdir != "" {
		mkdirErr := os.MkdirAll(cfg.Logdir, 0o750)
		if mkdirErr != nil {
			return nil, fmt.Errorf("create logdir: %w", mkdirErr)
		}

		name := cfg.Tag
		if name == "" {
			name = "session"
		}

		file, err := os.OpenFile(
			filepath.Join(cfg.Logdir, name+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open session log: %w", err)
		}

		providers.logFile = file
		sinks = append(sinks, slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	providers.Queue = NewLogQueue(cfg.QueueSize, sinks...)

	tracerErr := providers.initTracer(cfg)
	if tracerErr != nil {
		return nil, tracerErr
	}

	if cfg.EnableMetrics {
		providers.Registry = promclient.NewRegistry()

		exporter, err := otelprom.New(otelprom.WithRegisterer(providers.Registry))
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}

		providers.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	} else {
		providers.meterProvider = sdkmetric.NewMeterProvider()
	}

	otel.SetMeterProvider(providers.meterProvider)
	providers.Meter = providers.meterProvider.Meter(cfg.ServiceName)

	return providers, nil
}

// initTracer wires span export. Without an OTLP endpoint the tracer is an
// explicit no-op; with one, spans flow through a batch processor to the
// collector.
func (providers *Providers) initTracer(cfg Config) error {
	if cfg.OTLPEndpoint == "" {
		noop := nooptrace.NewTracerProvider()
		otel.SetTracerProvider(noop)
		providers.Tracer = noop.Tracer(cfg.ServiceName)

		return nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
	}

	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName))

	providers.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(providers.tracerProvider)
	providers.Tracer = providers.tracerProvider.Tracer(cfg.ServiceName)

	return nil
}

// Shutdown drains the log queue and flushes the telemetry providers.
func (providers *Providers) Shutdown(ctx context.Context) error {
	providers.Queue.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var firstErr error

	if providers.tracerProvider != nil {
		if err := providers.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}

	if err := providers.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if providers.logFile != nil {
		if err := providers.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
