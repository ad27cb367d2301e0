package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// DefaultStructuredLoggerConfig Tests
// =============================================================================

func TestDefaultStructuredLoggerConfig(t *testing.T) {
	cfg := DefaultStructuredLoggerConfig()

	assert.Equal(t, []string{"/health", "/metrics"}, cfg.SkipPaths)
	assert.False(t, cfg.SkipNotModified)
	assert.Nil(t, cfg.Logger)
	assert.Equal(t, 5*time.Second, cfg.SlowRequestThreshold)
}

// =============================================================================
// redactQueryString Tests
// =============================================================================

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    []string
		notExpected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: []string{""},
		},
		{
			name:     "no sensitive params",
			input:    "v=3&debug=1",
			expected: []string{"v=3", "debug=1"},
		},
		{
			name:        "redacts token",
			input:       "token=secret123&v=1",
			expected:    []string{"token=%5Bredacted%5D", "v=1"},
			notExpected: []string{"secret123"},
		},
		{
			name:        "redacts mixed case",
			input:       "API_KEY=sk_live_12345",
			expected:    []string{"API_KEY=%5Bredacted%5D"},
			notExpected: []string{"sk_live_12345"},
		},
		{
			name:     "unparseable query",
			input:    "%zz",
			expected: []string{"[redacted]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactQueryString(tt.input)
			for _, want := range tt.expected {
				assert.Contains(t, result, want)
			}
			for _, unwanted := range tt.notExpected {
				assert.NotContains(t, result, unwanted)
			}
		})
	}
}

// =============================================================================
// StructuredLogger Tests
// =============================================================================

func newLoggedApp(cfg StructuredLoggerConfig) *fiber.App {
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(StructuredLogger(cfg))
	app.Get("/bundle.js", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderETag, `"abc"`)
		return c.SendString("bundle()")
	})
	app.Get("/cached.js", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotModified)
	})
	app.Get("/broken.js", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadGateway, "build failed")
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestStructuredLogger_LogsBundleRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	cfg := DefaultStructuredLoggerConfig()
	cfg.Logger = &logger
	app := newLoggedApp(cfg)

	resp, err := app.Test(httptest.NewRequest("GET", "/bundle.js?token=abc&v=2", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "HTTP request", entry["message"])
	assert.Equal(t, "/bundle.js", entry["path"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, float64(len("bundle()")), entry["response_bytes"])
	assert.Equal(t, `"abc"`, entry["etag"])
	assert.NotEmpty(t, entry["request_id"])
	assert.NotContains(t, entry["query"], "abc")
}

func TestStructuredLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	app := newLoggedApp(StructuredLoggerConfig{Logger: &logger})

	_, err := app.Test(httptest.NewRequest("GET", "/broken.js", nil))
	require.NoError(t, err)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0]["level"])
	assert.Equal(t, float64(502), entries[0]["status"])
	assert.Equal(t, "build failed", entries[0]["error"])
}

func TestStructuredLogger_Skips(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	cfg := DefaultStructuredLoggerConfig()
	cfg.Logger = &logger
	cfg.SkipNotModified = true
	app := newLoggedApp(cfg)

	for _, path := range []string{"/health", "/cached.js"} {
		_, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
	}
	assert.Empty(t, buf.String())
}

func TestStructuredLogger_SlowRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	app.Use(StructuredLogger(StructuredLoggerConfig{Logger: &logger, SlowRequestThreshold: time.Millisecond}))
	app.Get("/bundle.js", func(c *fiber.Ctx) error {
		time.Sleep(5 * time.Millisecond)
		return c.SendString("late()")
	})

	_, err := app.Test(httptest.NewRequest("GET", "/bundle.js", nil))
	require.NoError(t, err)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, true, entries[0]["slow_request"])
}
