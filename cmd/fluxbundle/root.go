package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	debug     bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "fluxbundle",
	Short: "Serve esbuild bundles over HTTP",
	Long: `fluxbundle bundles JavaScript entry files with esbuild and serves the
result from a single route. Requests made while a build runs wait for it;
watch mode rebuilds when an input file changes.

Get started:
  fluxbundle serve --config fluxbundle.yaml
  fluxbundle build ./src/main.js --out dist/bundle.js`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logFormat != "console" && logFormat != "json" {
			return fmt.Errorf("invalid log format: %s (valid: console, json)", logFormat)
		}
		setupLogger(debug)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./fluxbundle.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console",
		"log format: console, json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogger sends logs to stderr so stdout stays free for bundle output.
func setupLogger(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if logFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
