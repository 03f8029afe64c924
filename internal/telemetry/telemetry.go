// Package telemetry wires up the OpenTelemetry tracer provider used by
// internal/metrics for exemplars.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config configures the tracer provider.
type Config struct {
	ServiceName string
	// OTLPEndpoint, when set, sends spans to an OTLP/gRPC collector. Takes
	// precedence over JaegerEndpoint when both are set.
	OTLPEndpoint string
	// JaegerEndpoint, when set and OTLPEndpoint is empty, sends spans to a
	// Jaeger collector's HTTP Thrift endpoint
	// (e.g. http://localhost:14268/api/traces).
	JaegerEndpoint string
}

// Setup installs a global TracerProvider and returns a shutdown func that
// flushes and closes the exporter. With neither endpoint set, spans are
// written to stdout, which is useful for local runs.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	var exp sdktrace.SpanExporter
	switch {
	case endpoint != "":
		exp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	case cfg.JaegerEndpoint != "":
		exp, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	default:
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(512), sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
