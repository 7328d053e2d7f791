package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/osakka/agentorch/pkg/logging"
)

func TestSetupDisabled(t *testing.T) {
	previous := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Config{}, "1.0.0", logging.NewNop())
	require.NoError(t, err)
	assert.Same(t, previous, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupInstallsProvider(t *testing.T) {
	previous := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Config{Enabled: true, SampleRatio: 1}, "1.0.0", logging.NewNop())
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)

	ctx, span := otel.Tracer("test").Start(context.Background(), "work")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())

	var buf bytes.Buffer
	logger := logging.NewWithWriter("test", &buf, logging.LevelInfo)
	logger.WithContext(ctx).Info("traced")
	span.End()
	assert.Contains(t, buf.String(), span.SpanContext().TraceID().String())

	require.NoError(t, shutdown(context.Background()))
	assert.Same(t, previous, otel.GetTracerProvider())
}

func TestSetupSampleRatioZero(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: true, SampleRatio: 0}, "", logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "work")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestSetupRejectsBadRatio(t *testing.T) {
	_, err := Setup(context.Background(), Config{Enabled: true, SampleRatio: 1.5}, "", logging.NewNop())
	assert.Error(t, err)
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:4318":  "127.0.0.1:4318",
		"https://localhost:4318": "localhost:4318",
		"collector:4318/":        "collector:4318",
		"":                       "",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, normalizeEndpoint(input), input)
	}
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{}, "")
	require.NotEmpty(t, attrs)
	assert.Equal(t, "service.name", string(attrs[0].Key))
	assert.Equal(t, defaultServiceName, attrs[0].Value.AsString())

	attrs = resourceAttributes(Config{ServiceName: "edge"}, "2.1.0")
	assert.Equal(t, "edge", attrs[0].Value.AsString())
	assert.Equal(t, "service.version", string(attrs[1].Key))
	assert.Equal(t, "2.1.0", attrs[1].Value.AsString())
}
