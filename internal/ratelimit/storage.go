// Package ratelimit provides storage backends for Fiber's limiter middleware.
// The memory backend suits a single instance; the Redis backend lets several
// instances behind a load balancer share one request budget per client.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/memory/v2"
	"github.com/rs/zerolog/log"
)

// Backend names accepted by NewStorage.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// StorageConfig selects a limiter storage backend.
type StorageConfig struct {
	Backend    string
	RedisURL   string
	GCInterval time.Duration // memory only
}

// NewStorage creates the configured limiter storage. The redis backend
// fails if the server cannot be reached.
func NewStorage(cfg StorageConfig) (fiber.Storage, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		gc := cfg.GCInterval
		if gc <= 0 {
			gc = 10 * time.Minute
		}
		log.Debug().Msg("Using in-memory rate limit storage (single instance mode)")
		return memory.New(memory.Config{GCInterval: gc}), nil

	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis rate limit backend")
		}
		store, err := NewRedisStorage(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info().Msg("Using Redis-compatible rate limit storage (multi-instance mode)")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s (valid options: memory, redis)", cfg.Backend)
	}
}
