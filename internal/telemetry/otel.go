package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "custodyd"

// InitOtelSDK installs a global tracer provider exporting spans to the collector
// at endpoint. The returned func flushes and stops the exporter.
func InitOtelSDK(
	ctx context.Context, endpoint string, pushInterval time.Duration,
) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	batcherOpts := []sdktrace.BatchSpanProcessorOption{}
	if pushInterval > 0 {
		batcherOpts = append(batcherOpts, sdktrace.WithBatchTimeout(pushInterval))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batcherOpts...),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
