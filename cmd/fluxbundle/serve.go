package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxbundle/internal/config"
	"github.com/fluxbase-eu/fluxbundle/internal/observability"
	"github.com/fluxbase-eu/fluxbundle/internal/server"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured bundle over HTTP",
	Long: `Start the HTTP server. The bundle is built once at startup unless
bundle.precompile is false; a failing initial build stops the server
unless watch mode is on.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting fluxbundle")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(debug || cfg.Debug)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := observability.NewTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var registry *prometheus.Registry
	opts := cfg.Bundle.Options()
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Registerer = registry
	}
	if cfg.Bundle.Watch {
		// Keep the dev server up so the next save can fix the build.
		opts.OnError = func(err error) {
			log.Warn().Err(err).Msg("Bundle is broken, waiting for changes")
		}
	}

	bundle, err := bundleware.New(cfg.Bundle.Files(), opts, nil)
	if err != nil {
		return fmt.Errorf("failed to create bundle: %w", err)
	}

	srv, err := server.NewServer(cfg, bundle, registry, Version)
	if err != nil {
		bundle.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.Server.Address).
			Str("route", cfg.Bundle.Route).
			Bool("watch", cfg.Bundle.Watch).
			Msg("Starting fluxbundle server")
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		bundle.Close()
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := shutdownContext(cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Server exited")
	return nil
}

// shutdownContext bounds graceful shutdown. A zero timeout waits for
// in-flight requests indefinitely.
func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}
