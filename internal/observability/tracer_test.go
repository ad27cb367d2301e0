package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "fluxbundle", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Insecure)
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(context.Background(), TracerConfig{Enabled: false}, "test")
	require.NoError(t, err)

	assert.False(t, tracer.IsEnabled())
	assert.NotNil(t, tracer.Tracer())
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

// withRecorder installs an in-memory span recorder as the global provider.
func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestBuildSpan(t *testing.T) {
	t.Run("successful build", func(t *testing.T) {
		recorder := withRecorder(t)

		ctx, span := StartBuildSpan(context.Background(), "build-1", "precompile")
		assert.NotEmpty(t, ExtractTraceID(ctx))
		EndBuildSpan(span, 512, nil)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "bundle.build", spans[0].Name())
		assert.Equal(t, codes.Ok, spans[0].Status().Code)
		assert.Contains(t, spans[0].Attributes(), attribute.String("bundle.trigger", "precompile"))
		assert.Contains(t, spans[0].Attributes(), attribute.Int("bundle.bytes", 512))
	})

	t.Run("failed build", func(t *testing.T) {
		recorder := withRecorder(t)

		_, span := StartBuildSpan(context.Background(), "build-2", "watch")
		EndBuildSpan(span, 0, errors.New("syntax error"))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "syntax error", spans[0].Status().Description)
		require.Len(t, spans[0].Events(), 1)
		assert.Equal(t, "exception", spans[0].Events()[0].Name)
	})
}

func TestExtractTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, ExtractTraceID(context.Background()))
}
