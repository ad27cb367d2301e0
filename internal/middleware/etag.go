package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// BundleCacheConfig defines validators and caching headers for bundle responses
type BundleCacheConfig struct {
	// Weak emits W/"..." validators. Bundles are byte-for-byte reproducible,
	// so strong validators are the default.
	Weak bool

	// DisableETag turns off ETag generation and conditional GET handling
	DisableETag bool

	// CacheControl is sent on successful responses when non-empty
	CacheControl string
}

// DefaultBundleCacheConfig returns the default configuration
func DefaultBundleCacheConfig() BundleCacheConfig {
	return BundleCacheConfig{
		CacheControl: "no-cache",
	}
}

// BundleCache sets an ETag and Cache-Control on successful GET and HEAD
// responses and answers 304 when If-None-Match matches. With no-cache the
// browser revalidates every load but only downloads a changed bundle.
func BundleCache(config ...BundleCacheConfig) fiber.Handler {
	cfg := DefaultBundleCacheConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method != fiber.MethodGet && method != fiber.MethodHead {
			return c.Next()
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}

		if cfg.CacheControl != "" {
			c.Set(fiber.HeaderCacheControl, cfg.CacheControl)
		}
		if cfg.DisableETag {
			return nil
		}

		etag := generateETag(c.Response().Body(), cfg.Weak)
		c.Set(fiber.HeaderETag, etag)

		if ifNoneMatch := c.Get(fiber.HeaderIfNoneMatch); ifNoneMatch != "" && etagMatches(etag, ifNoneMatch) {
			c.Status(fiber.StatusNotModified)
			c.Response().ResetBody()
		}
		return nil
	}
}

// generateETag hashes the bundle body. An empty bundle still gets a validator.
func generateETag(body []byte, weak bool) string {
	hash := sha256.Sum256(body)
	tag := `"` + hex.EncodeToString(hash[:16]) + `"`
	if weak {
		return "W/" + tag
	}
	return tag
}

// etagMatches implements the weak comparison If-None-Match requires,
// including lists and the * wildcard.
func etagMatches(etag, ifNoneMatch string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "*" {
		return true
	}

	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate != "" && candidate == want {
			return true
		}
	}
	return false
}
