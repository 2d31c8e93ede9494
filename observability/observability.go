// Package observability wires OpenTelemetry tracing for applications
// embedding the Corpora client. Spans are exported over OTLP HTTP,
// which works against any collector speaking that protocol, a local
// agent included.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/corpora-ai/corpora-go/config"
)

const defaultEndpoint = "localhost:4318"

// Setup builds an OTLP HTTP exporter from cfg and installs a batching
// tracer provider as the global one, which corpora.NewClient picks up
// when tracing is enabled. The returned shutdown function flushes
// pending spans and must be called before the process exits.
//
// An unreachable exporter endpoint degrades to a no-op rather than
// failing the caller; the problem is logged once.
func Setup(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "corpora-client"
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		logger.Warn("trace exporter unavailable, tracing disabled", "error", err)
		return noop, nil
	}

	// Schemaless keeps resource.Merge schema conflicts out of the
	// picture across semconv versions.
	res := resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return tp.Shutdown, nil
}
