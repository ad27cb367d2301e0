package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fluxbundle/internal/observability"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundler"
	"github.com/fluxbase-eu/fluxbundle/pkg/bundleware"
	"github.com/fluxbase-eu/fluxbundle/pkg/mutate"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig               `mapstructure:"server"`
	Bundle  BundleConfig               `mapstructure:"bundle"`
	Metrics MetricsConfig              `mapstructure:"metrics"`
	Tracing observability.TracerConfig `mapstructure:"tracing"`
	Debug   bool                       `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string          `mapstructure:"address"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits bundle requests per client IP
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Max        int           `mapstructure:"max"`
	Expiration time.Duration `mapstructure:"expiration"`
	Backend    string        `mapstructure:"backend"`   // memory or redis
	RedisURL   string        `mapstructure:"redis_url"` // required for the redis backend
}

// BundleConfig describes the single bundle the server mounts
type BundleConfig struct {
	Route        string   `mapstructure:"route"`
	Entries      []string `mapstructure:"entries"`
	CacheControl string   `mapstructure:"cache_control"`
	ETag         bool     `mapstructure:"etag"`

	Watch        bool          `mapstructure:"watch"`
	Precompile   bool          `mapstructure:"precompile"`
	Mutate       string        `mapstructure:"mutate"`
	Banner       string        `mapstructure:"banner"` // read by the banner transform
	Require      []string      `mapstructure:"require"`
	External     []string      `mapstructure:"external"`
	Ignore       []string      `mapstructure:"ignore"`
	Exclude      []string      `mapstructure:"exclude"`
	Debounce     time.Duration `mapstructure:"debounce"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`

	Engine bundler.Config `mapstructure:"engine"`
}

// MetricsConfig contains Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables. An empty
// configFile searches the default locations.
func Load(configFile string) (*Config, error) {
	return LoadWithOverrides(configFile, nil)
}

// LoadWithOverrides is Load with values that take precedence over the file
// and the environment, keyed like the file (e.g. "bundle.entries").
// Command line flags use it.
func LoadWithOverrides(configFile string, overrides map[string]any) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("fluxbundle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fluxbundle")
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable support with underscore replacer
	v.AutomaticEnv()
	v.SetEnvPrefix("FLUXBUNDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file (if it exists)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values. Every key needs a default
// so that environment overrides are seen by Unmarshal.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.max", 600)
	v.SetDefault("server.rate_limit.expiration", "1m")
	v.SetDefault("server.rate_limit.backend", "memory")
	v.SetDefault("server.rate_limit.redis_url", "")

	// Bundle defaults
	v.SetDefault("bundle.route", "/bundle.js")
	v.SetDefault("bundle.entries", []string{})
	v.SetDefault("bundle.cache_control", "no-cache")
	v.SetDefault("bundle.etag", true)
	v.SetDefault("bundle.watch", false)
	v.SetDefault("bundle.precompile", true)
	v.SetDefault("bundle.mutate", "")
	v.SetDefault("bundle.banner", "")
	v.SetDefault("bundle.require", []string{})
	v.SetDefault("bundle.external", []string{})
	v.SetDefault("bundle.ignore", []string{})
	v.SetDefault("bundle.exclude", []string{})
	v.SetDefault("bundle.debounce", "100ms")
	v.SetDefault("bundle.build_timeout", "0s")
	v.SetDefault("bundle.engine.format", "iife")
	v.SetDefault("bundle.engine.platform", "browser")
	v.SetDefault("bundle.engine.target", "")
	v.SetDefault("bundle.engine.global_name", "")
	v.SetDefault("bundle.engine.minify", false)
	v.SetDefault("bundle.engine.sourcemap", false)
	v.SetDefault("bundle.engine.working_dir", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	v.SetDefault("tracing.enabled", tracing.Enabled)
	v.SetDefault("tracing.endpoint", tracing.Endpoint)
	v.SetDefault("tracing.service_name", tracing.ServiceName)
	v.SetDefault("tracing.environment", tracing.Environment)
	v.SetDefault("tracing.sample_rate", tracing.SampleRate)
	v.SetDefault("tracing.insecure", tracing.Insecure)

	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}
	if err := c.Bundle.Validate(); err != nil {
		return fmt.Errorf("bundle configuration error: %w", err)
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with '/'")
		}
		if c.Metrics.Path == c.Bundle.Route {
			return fmt.Errorf("metrics path collides with bundle route %s", c.Bundle.Route)
		}
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1")
	}
	return nil
}

// Validate validates server settings
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if sc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if sc.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative")
	}
	if rl := sc.RateLimit; rl.Enabled {
		if rl.Max <= 0 || rl.Expiration <= 0 {
			return fmt.Errorf("rate_limit max and expiration must be positive when enabled")
		}
		switch rl.Backend {
		case "", "memory":
		case "redis":
			if rl.RedisURL == "" {
				return fmt.Errorf("rate_limit redis_url is required for the redis backend")
			}
		default:
			return fmt.Errorf("unknown rate_limit backend: %s (valid options: memory, redis)", rl.Backend)
		}
	}
	return nil
}

// Validate validates bundle settings
func (bc *BundleConfig) Validate() error {
	if !strings.HasPrefix(bc.Route, "/") {
		return fmt.Errorf("route must start with '/'")
	}
	if len(bc.Entries) == 0 && len(bc.Require) == 0 {
		return fmt.Errorf("at least one entry or require is needed")
	}
	if bc.Mutate != "" {
		if _, ok := mutate.Default().Lookup(bc.Mutate); !ok {
			return fmt.Errorf("unknown mutate transform %q (available: %s)", bc.Mutate, strings.Join(mutate.Default().Names(), ", "))
		}
	}
	if bc.Debounce < 0 || bc.BuildTimeout < 0 {
		return fmt.Errorf("debounce and build_timeout cannot be negative")
	}
	return bc.Engine.Validate()
}

// Files returns the bundle entry files.
func (bc *BundleConfig) Files() bundleware.Files {
	return bundleware.Files{Paths: bc.Entries}
}

// Options converts the bundle settings into middleware options.
func (bc *BundleConfig) Options() bundleware.Options {
	opts := bundleware.Options{
		Config:       bc.Engine,
		Watch:        bundleware.Bool(bc.Watch),
		Precompile:   bundleware.Bool(bc.Precompile),
		Mutate:       bc.Mutate,
		Require:      bc.Require,
		External:     bc.External,
		Ignore:       bc.Ignore,
		Exclude:      bc.Exclude,
		Debounce:     bc.Debounce,
		BuildTimeout: bc.BuildTimeout,
	}
	if bc.Banner != "" {
		opts.Settings = map[string]any{"banner": bc.Banner}
	}
	return opts
}
