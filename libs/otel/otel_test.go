package otelx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

const sampleTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestTraceContextRoundTrip(t *testing.T) {
	ctx := ContextWithTraceContext(context.Background(), sampleTraceparent, "vendor=abc")
	sc := trace.SpanContextFromContext(ctx)
	require.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())

	tp, ts := TraceContextStrings(ctx)
	assert.Equal(t, sampleTraceparent, tp)
	assert.Equal(t, "vendor=abc", ts)
}

func TestTraceContextWithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ContextWithTraceContext(ctx, "", "vendor=abc"))

	tp, ts := TraceContextStrings(ctx)
	assert.Empty(t, tp)
	assert.Empty(t, ts)
}

func TestMalformedTraceparentIsIgnored(t *testing.T) {
	ctx := ContextWithTraceContext(context.Background(), "not-a-traceparent", "")
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("APP_ENV", "staging")

	cfg := ConfigFromEnv("scheduler-service")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "scheduler-service", cfg.ServiceName)
}

func TestConfigFromEnvKeepsDefaultsOnBadValues(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "maybe")
	t.Setenv("OTEL_SAMPLING_RATIO", "3")

	cfg := ConfigFromEnv("booking-service")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
