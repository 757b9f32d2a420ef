// Package tracing installs the OpenTelemetry tracer provider and W3C
// propagator used by the HTTP server and the payment client.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mthsnx/caffe-diem/internal/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Propagator carries W3C trace context and baggage.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Setup builds a tracer provider from cfg and installs it, together with
// Propagator, as the global default. The returned function flushes and stops
// the provider.
func Setup(ctx context.Context, cfg config.TracingConfig, serviceName string) (func(context.Context) error, error) {
	tp, err := NewTracerProvider(ctx, cfg, serviceName, os.Stdout)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(Propagator())
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn().Err(err).Msg("tracing: exporter error")
	}))

	log.Info().Str("exporter", cfg.Exporter).Float64("sample_ratio", cfg.SampleRatio).Msg("tracing: tracer provider installed")
	return tp.Shutdown, nil
}

// NewTracerProvider returns a provider exporting to the backend named in cfg.
// With the "none" exporter spans are still created so trace context flows
// through logs and outgoing requests. stdout is where the stdout exporter
// writes.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig, serviceName string, stdout io.Writer) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: failed to build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}

	switch cfg.Exporter {
	case config.TraceExporterNone, "":
	case config.TraceExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(stdout))
		if err != nil {
			return nil, fmt.Errorf("tracing: failed to create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case config.TraceExporterOTLP:
		var otlpOpts []otlptracehttp.Option
		if cfg.OTLPEndpoint != "" {
			otlpOpts = append(otlpOpts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		}
		exporter, err := otlptracehttp.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("tracing: failed to create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}

	return sdktrace.NewTracerProvider(opts...), nil
}
