package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitExportsSpansAndPropagates(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	prev := exporterFactory
	exporterFactory = func(string) (sdktrace.SpanExporter, error) { return exp, nil }
	t.Cleanup(func() { exporterFactory = prev })

	shutdown, err := Init(context.Background(), Config{ProjectID: "demo", Version: "test"}, zap.NewNop())
	require.NoError(t, err)

	ctx, span := otel.Tracer("test").Start(context.Background(), "scope")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	assert.NotEmpty(t, carrier.Get("traceparent"))
	require.NoError(t, shutdown(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "scope", spans[0].Name)
}

func TestInitWithoutProjectSkipsExporter(t *testing.T) {
	prev := exporterFactory
	exporterFactory = func(string) (sdktrace.SpanExporter, error) {
		t.Fatal("exporter must not be created without a project")
		return nil, nil
	}
	t.Cleanup(func() { exporterFactory = prev })

	shutdown, err := Init(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	t.Parallel()

	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
