package observability

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for bundle builds and the HTTP
// server in front of them. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Build metrics
	buildsTotal   *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	bundleBytes   prometheus.Gauge
	buildsActive  prometheus.Gauge
	waiters       prometheus.Gauge
	lastBuildTime prometheus.Gauge

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. Collectors
// already registered by an earlier call are reused, so several bundles can
// share one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Metrics{
		buildsTotal: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxbundle_builds_total",
				Help: "Total number of bundle builds",
			},
			[]string{"trigger", "result"},
		)),
		buildDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxbundle_build_duration_seconds",
				Help:    "Bundle build latency in seconds, including the output transform",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"},
		)),
		bundleBytes: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxbundle_bundle_bytes",
				Help: "Size of the last successfully built bundle in bytes",
			},
		)),
		buildsActive: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxbundle_builds_in_flight",
				Help: "Current number of bundle builds in progress",
			},
		)),
		waiters: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxbundle_waiting_requests",
				Help: "Current number of requests waiting for a build to settle",
			},
		)),
		lastBuildTime: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxbundle_last_build_timestamp_seconds",
				Help: "Unix time of the last settled build",
			},
		)),

		httpRequestsTotal: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxbundle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		)),
		httpRequestDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxbundle_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		)),
		httpResponseSize: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxbundle_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		)),
		httpRequestsInFlight: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxbundle_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		)),
	}
}

// register registers c, returning the existing collector when an identical
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// BuildStarted marks a build as in flight.
func (m *Metrics) BuildStarted() {
	if m == nil {
		return
	}
	m.buildsActive.Inc()
}

// RecordBuild records a settled build.
func (m *Metrics) RecordBuild(trigger string, duration time.Duration, bytes int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}

	m.buildsActive.Dec()
	m.buildsTotal.WithLabelValues(trigger, result).Inc()
	m.buildDuration.WithLabelValues(result).Observe(duration.Seconds())
	m.lastBuildTime.SetToCurrentTime()
	if err == nil {
		m.bundleBytes.Set(float64(bytes))
	}
}

// SetWaiters records the current waiter queue length.
func (m *Metrics) SetWaiters(n int) {
	if m == nil {
		return
	}
	m.waiters.Set(float64(n))
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}

		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := normalizePath(c.Path())
		method := c.Method()

		err := c.Next()

		duration := time.Since(start).Seconds()
		code := c.Response().StatusCode()
		if err != nil {
			code = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
		}
		status := statusClass(code)
		responseSize := len(c.Response().Body())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		m.httpResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))

		return err
	}
}

// Handler returns a Fiber handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) fiber.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// normalizePath keeps label cardinality bounded
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the status code class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
