package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxbundle/internal/config"
	"github.com/fluxbase-eu/fluxbundle/internal/middleware"
	"github.com/fluxbase-eu/fluxbundle/internal/observability"
	"github.com/fluxbase-eu/fluxbundle/internal/ratelimit"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundleware"
)

// Server represents the HTTP server
type Server struct {
	app       *fiber.App
	config    *config.Config
	bundle    *bundleware.Middleware
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	limiter   fiber.Storage
	version   string
	startedAt time.Time
}

// NewServer creates the Fiber app serving bundle at the configured route.
// registry may be nil when metrics are disabled.
func NewServer(cfg *config.Config, bundle *bundleware.Middleware, registry *prometheus.Registry, version string) (*Server, error) {
	app := fiber.New(fiber.Config{
		ServerHeader:          "fluxbundle",
		AppName:               "fluxbundle " + version,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		bundle:    bundle,
		registry:  registry,
		version:   version,
		startedAt: time.Now(),
	}
	if cfg.Metrics.Enabled && registry != nil {
		s.metrics = observability.NewMetrics(registry)
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		storage, err := ratelimit.NewStorage(ratelimit.StorageConfig{
			Backend:  rl.Backend,
			RedisURL: rl.RedisURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limit storage: %w", err)
		}
		s.limiter = storage
	}

	s.setupMiddlewares()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddlewares() {
	// Request ID middleware - must be first so every log line carries it
	s.app.Use(requestid.New())

	if s.config.Tracing.Enabled {
		log.Debug().Msg("Adding OpenTelemetry tracing middleware")
		s.app.Use(middleware.TracingMiddleware(middleware.TracingConfig{
			Enabled:   true,
			SkipPaths: []string{"/health", s.config.Metrics.Path},
		}))
	}

	s.app.Use(middleware.StructuredLogger(middleware.StructuredLoggerConfig{
		SkipPaths:            []string{"/health", s.config.Metrics.Path},
		SkipNotModified:      !s.config.Debug,
		SlowRequestThreshold: 5 * time.Second,
	}))

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	// Sets X-Content-Type-Options: nosniff among others. Bundles are loaded
	// by pages on other origins, so the resource policy must allow that.
	s.app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))

	s.app.Use(s.metrics.MetricsMiddleware())

	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	if s.metrics != nil {
		s.app.Get(s.config.Metrics.Path, observability.Handler(s.registry))
	}

	handlers := make([]fiber.Handler, 0, 3)
	if s.limiter != nil {
		rl := s.config.Server.RateLimit
		handlers = append(handlers, middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Max:        rl.Max,
			Expiration: rl.Expiration,
			Storage:    s.limiter,
		}))
	}
	handlers = append(handlers, middleware.BundleCache(middleware.BundleCacheConfig{
		DisableETag:  !s.config.Bundle.ETag,
		CacheControl: s.config.Bundle.CacheControl,
	}))
	handlers = append(handlers, s.bundle.Handler())

	s.app.Get(s.config.Bundle.Route, handlers...)
}

// handleHealth reports the bundle cache state. A failed last build makes
// the service degraded.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := s.bundle.Status()

	bundle := fiber.Map{
		"state":   status.State.String(),
		"builds":  status.Builds,
		"waiting": status.Waiting,
		"bytes":   status.Bytes,
	}
	if !status.LastBuild.IsZero() {
		bundle["last_build"] = status.LastBuild.UTC()
	}
	if status.LastError != nil {
		bundle["last_error"] = status.LastError.Error()
	}
	if stats, ok := s.bundle.WatchStats(); ok {
		bundle["watch"] = fiber.Map{
			"files":   len(s.bundle.Bundler().Files()),
			"events":  stats.Events,
			"updates": stats.Updates,
			"errors":  stats.Errors,
		}
	}

	health := "ok"
	httpStatus := fiber.StatusOK
	if status.LastError != nil {
		health = "degraded"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    health,
		"version":   s.version,
		"bundle":    bundle,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown stops accepting requests, releases waiting bundle requests and
// stops the watcher.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	s.bundle.Close()
	err := s.app.ShutdownWithContext(ctx)
	if s.limiter != nil {
		if cerr := s.limiter.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close rate limit storage")
		}
	}
	return err
}

// App returns the underlying Fiber app instance for testing
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors globally. Build errors keep their
// messages so they show up in the browser's network panel.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	var details []string

	var fe *fiber.Error
	var be *bundler.BuildError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	case errors.As(err, &be):
		message = be.Error()
		details = be.Messages
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	body := fiber.Map{
		"error": message,
		"code":  code,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	return c.Status(code).JSON(body)
}
