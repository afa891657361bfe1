package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/aktagon/release-radar"

// tracer resolves through the global provider, so spans started before
// SetupTracing (or without it) are no-ops.
var tracer trace.Tracer = otel.Tracer(instrumentationName)

// SetupTracing installs an OTLP/HTTP tracer provider when an endpoint is configured.
// It returns a shutdown function that flushes pending spans.
func SetupTracing(ctx context.Context, endpoint string, settings TracingSettings, logger *zap.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		logger.Debug("Tracing disabled, no OTLP endpoint configured")
		return noop, nil
	}

	logger.Info("Setting up tracing",
		zap.String("service_name", settings.ServiceName),
		zap.String("otlp_endpoint", endpoint),
		zap.String("environment", settings.Environment))

	var opts []otlptracehttp.Option
	if value, isURL := otlpEndpoint(endpoint); isURL {
		opts = append(opts, otlptracehttp.WithEndpointURL(value))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(value), otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(settings.ServiceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(settings.Environment),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(settings.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// otlpEndpoint reports whether endpoint is a full URL. Anything else is taken
// as host:port of a local collector reached without TLS.
func otlpEndpoint(endpoint string) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	return endpoint, strings.Contains(endpoint, "://")
}

// shutdownTracing flushes spans with a bounded timeout
func shutdownTracing(shutdown func(context.Context) error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Warn("Failed to shut down tracing", zap.Error(err))
	}
}
