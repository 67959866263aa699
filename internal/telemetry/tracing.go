// Package telemetry sets up OpenTelemetry tracing for crawl runs.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// Config controls trace export.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// ProjectID enables export to Google Cloud Trace. Without it spans are
	// recorded but dropped, which still lets trace context reach Pub/Sub.
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// exporterFactory is swapped in tests.
var exporterFactory = func(projectID string) (sdktrace.SpanExporter, error) {
	return texporter.New(texporter.WithProjectID(projectID))
}

// Init installs the global tracer provider and the W3C propagators.
func Init(ctx context.Context, cfg Config, logger *zap.Logger) (Shutdown, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.ServiceName
	if name == "" {
		name = "pricecrawl"
	}
	attrs := resource.WithAttributes(semconv.ServiceName(name))
	if cfg.Version != "" {
		attrs = resource.WithAttributes(semconv.ServiceName(name), semconv.ServiceVersion(cfg.Version))
	}
	res, err := resource.New(ctx, attrs)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if cfg.ProjectID != "" {
		exp, err := exporterFactory(cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		logger.Info("exporting traces to cloud trace", zap.String("project_id", cfg.ProjectID))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0 || ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
