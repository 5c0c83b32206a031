package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Hour, BurstMax: 3})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "request %d", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "clients are limited independently")

	info := rl.GetInfo("a")
	assert.Equal(t, 60, info.Limit)
	assert.Zero(t, info.Remaining)
	assert.True(t, info.ResetAt.After(time.Now()))

	rl.Reset("a")
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterInfoForUnknownClient(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimitConfig())
	defer rl.Stop()

	info := rl.GetInfo("nobody")
	assert.Equal(t, 10, info.Remaining)
	assert.WithinDuration(t, time.Now(), info.ResetAt, time.Second)
}

func TestIdempotencyStore(t *testing.T) {
	s := NewIdempotencyStore(time.Hour)
	defer s.Stop()

	_, ok := s.Check("k")
	assert.False(t, ok)

	s.Store("k", "run_1", fiber.Map{"run_id": "run_1"})
	entry, ok := s.Check("k")
	require.True(t, ok)
	assert.Equal(t, "run_1", entry.RunID)

	s.Delete("k")
	_, ok = s.Check("k")
	assert.False(t, ok)

	expired := NewIdempotencyStore(-time.Second)
	defer expired.Stop()
	expired.Store("k", "run_1", nil)
	_, ok = expired.Check("k")
	assert.False(t, ok)
}

func TestSignature(t *testing.T) {
	sig := SignPayload([]byte(`{"run_id":"run_1"}`), "secret")
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature([]byte(`{"run_id":"run_1"}`), sig, "secret"))
	assert.False(t, VerifySignature([]byte(`{"run_id":"run_2"}`), sig, "secret"))
}

func newApp(rl *RateLimiter, is *IdempotencyStore) *fiber.App {
	m := NewMiddleware(rl, is)
	app := fiber.New()
	app.Use(SecurityHeadersMiddleware(), RequestValidationMiddleware(), m.RateLimitMiddleware(), m.IdempotencyMiddleware())
	app.Post("/runs", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"fresh": true})
	})
	return app
}

func TestMiddlewareChain(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour, BurstMax: 1})
	defer rl.Stop()
	is := NewIdempotencyStore(time.Hour)
	defer is.Stop()
	is.Store("dup", "run_1", fiber.Map{"run_id": "run_1"})
	app := newApp(rl, is)

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, "dup")
	req.Header.Set(HeaderAPIKey, "client-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(HeaderIdempotencyReplayed))
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"run_id":"run_1"}`, string(body))

	req = httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{}`))
	req.Header.Set(HeaderAPIKey, "client-1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRequestValidationRejectsNonJSON(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimitConfig())
	defer rl.Stop()
	is := NewIdempotencyStore(time.Hour)
	defer is.Stop()
	app := newApp(rl, is)

	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("scenario=search"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(HeaderRequestID, "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(HeaderRequestID))
}
