package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/memory/v2"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	Max        int                     // Maximum number of requests
	Expiration time.Duration           // Time window for the rate limit
	KeyFunc    func(*fiber.Ctx) string // Function to generate the key for rate limiting
	Storage    fiber.Storage           // Counter storage, in-memory when nil
}

// NewRateLimiter creates a per-client rate limiter
func NewRateLimiter(config RateLimiterConfig) fiber.Handler {
	if config.Storage == nil {
		config.Storage = memory.New(memory.Config{
			GCInterval: 10 * time.Minute,
		})
	}

	if config.KeyFunc == nil {
		config.KeyFunc = func(c *fiber.Ctx) string {
			return "bundle:" + c.IP()
		}
	}

	message := fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s allowed.",
		config.Max, config.Expiration.String())

	return limiter.New(limiter.Config{
		Max:          config.Max,
		Expiration:   config.Expiration,
		KeyGenerator: config.KeyFunc,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       message,
				"code":        fiber.StatusTooManyRequests,
				"retry_after": int(config.Expiration.Seconds()),
			})
		},
		Storage: config.Storage,
	})
}
