package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
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

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.SkipPaths)
}

func TestTracingMiddleware(t *testing.T) {
	recorder := withSpanRecorder(t)

	var traceID string
	app := fiber.New()
	app.Use(TracingMiddleware(DefaultTracingConfig()))
	app.Get("/bundle.js", func(c *fiber.Ctx) error {
		traceID = GetTraceID(c)
		return c.SendString("bundle()")
	})
	app.Get("/broken.js", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "build failed")
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/bundle.js", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, traceID)
	assert.Equal(t, traceID, resp.Header.Get("X-Trace-ID"))

	_, err = app.Test(httptest.NewRequest("GET", "/broken.js", nil))
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2, "health checks are not traced")
	assert.Equal(t, "GET /bundle.js", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "GET /broken.js", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "build failed", spans[1].Status().Description)
}

func TestTracingMiddleware_Disabled(t *testing.T) {
	recorder := withSpanRecorder(t)

	app := fiber.New()
	app.Use(TracingMiddleware(TracingConfig{Enabled: false}))
	app.Get("/bundle.js", func(c *fiber.Ctx) error {
		assert.Empty(t, GetTraceID(c))
		return c.SendString("bundle()")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/bundle.js", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("X-Trace-ID"))
	assert.Empty(t, recorder.Ended())
}
