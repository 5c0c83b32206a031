package security

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Header names used by the middleware.
const (
	HeaderAPIKey              = "X-API-Key"
	HeaderIdempotencyKey      = "X-Idempotency-Key"
	HeaderIdempotencyReplayed = "X-Idempotency-Replayed"
	HeaderRequestID           = "X-Request-ID"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// Middleware provides security middleware for Fiber
type Middleware struct {
	rateLimiter      *RateLimiter
	idempotencyStore *IdempotencyStore
}

// NewMiddleware creates a new security middleware
func NewMiddleware(rl *RateLimiter, is *IdempotencyStore) *Middleware {
	return &Middleware{
		rateLimiter:      rl,
		idempotencyStore: is,
	}
}

// ClientID identifies the caller for rate limiting.
func ClientID(c *fiber.Ctx) string {
	if key := c.Get(HeaderAPIKey); key != "" {
		return key
	}
	return c.IP()
}

// RateLimitMiddleware returns a rate limiting middleware
func (m *Middleware) RateLimitMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := ClientID(c)
		allowed := m.rateLimiter.Allow(clientID)
		info := m.rateLimiter.GetInfo(clientID)

		c.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

		if !allowed {
			retryAfter := int64(time.Until(info.ResetAt).Seconds()) + 1
			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
		}
		return c.Next()
	}
}

// IdempotencyMiddleware replays the cached response of a POST that carried
// the same idempotency key.
func (m *Middleware) IdempotencyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}
		key := c.Get(HeaderIdempotencyKey)
		if key == "" {
			return c.Next()
		}

		if entry, ok := m.idempotencyStore.Check(key); ok {
			c.Set(HeaderIdempotencyReplayed, "true")
			return c.Status(fiber.StatusAccepted).JSON(entry.Response)
		}
		return c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers and a request ID.
func SecurityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'self'")

		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		c.Set(HeaderRequestID, requestID)
		c.Locals("requestID", requestID)

		return c.Next()
	}
}

// RequestValidationMiddleware rejects non-JSON and oversized bodies.
func RequestValidationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut || c.Method() == fiber.MethodPatch {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"success": false,
					"error":   "Content-Type must be application/json",
				})
			}
		}

		if len(c.Body()) > maxBodySize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"success": false,
				"error":   "Request body too large",
			})
		}
		return c.Next()
	}
}
