package reguaflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/RealZimboGuy/reguaflow/internal/config"
)

const (
	TracingExporterNone   = ""
	TracingExporterStdout = "stdout"
	TracingExporterOTLP   = "otlp"
)

// SetupTracing installs the global tracer provider for the configured exporter.
// With no exporter configured the otel no-op provider stays in place and the
// returned shutdown func does nothing.
func SetupTracing(ctx context.Context) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	switch kind := config.GetSystemSettingString(config.TRACING_EXPORTER); kind {
	case TracingExporterNone:
		return func(context.Context) error { return nil }, nil
	case TracingExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		exporter = exp
	case TracingExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.GetSystemSettingString(config.OTLP_ENDPOINT))}
		if config.GetSystemSettingBool(config.OTLP_INSECURE) {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("%s must be one of %q, %q or empty (got %q)", config.TRACING_EXPORTER,
			TracingExporterStdout, TracingExporterOTLP, kind)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", config.GetSystemSettingString(config.SERVICE_NAME)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	slog.Info("Tracing enabled", "exporter", config.GetSystemSettingString(config.TRACING_EXPORTER))

	return tp.Shutdown, nil
}
