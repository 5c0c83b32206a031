package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/scenario"
	"github.com/ahrdadan/sessionfixture/internal/security"
)

// RouteConfig holds configuration for routes
type RouteConfig struct {
	RateLimitRequests int           // requests per window
	RateLimitWindow   time.Duration // time window
	BurstMax          int
	IdempotencyTTL    time.Duration // TTL for idempotency keys
	BaseURL           string        // Base URL for full URLs in responses
	Driver            string
	UseRemote         bool
}

// DefaultRouteConfig returns default route configuration
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
		BurstMax:          10,
		IdempotencyTTL:    24 * time.Hour,
		BaseURL:           "http://localhost:8000",
	}
}

// SetupRoutes registers the health, matrix and run routes. The returned
// function releases the security stores.
func SetupRoutes(app *fiber.App, runs RunQueue, scenarios *scenario.Registry, config RouteConfig, logger *zap.Logger) (stop func()) {
	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
		RequestsPerWindow: config.RateLimitRequests,
		WindowDuration:    config.RateLimitWindow,
		BurstMax:          config.BurstMax,
	})
	idempotencyStore := security.NewIdempotencyStore(config.IdempotencyTTL)
	secMiddleware := security.NewMiddleware(rateLimiter, idempotencyStore)

	handler := NewHandler(config.Driver, config.UseRemote, scenarios)
	runHandler := NewRunHandler(runs, scenarios, idempotencyStore, config.BaseURL, logger)

	app.Get("/health", handler.HealthCheck)

	fixture := app.Group("/fixture")
	fixture.Use(security.SecurityHeadersMiddleware())
	fixture.Get("/matrix", handler.Matrix)

	runsGroup := fixture.Group("/runs")
	runsGroup.Use(
		secMiddleware.RateLimitMiddleware(),
		security.RequestValidationMiddleware(),
		secMiddleware.IdempotencyMiddleware(),
	)
	runsGroup.Post("", runHandler.CreateRun)
	runsGroup.Get("/:run_id", runHandler.GetRunStatus)
	runsGroup.Get("/:run_id/result", runHandler.GetRunResult)
	runsGroup.Post("/:run_id/cancel", runHandler.CancelRun)
	runsGroup.Get("/:run_id/events", runHandler.StreamEvents)

	fixture.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	fixture.Get("/ws", websocket.New(runHandler.HandleWebSocket))

	return func() {
		rateLimiter.Stop()
		idempotencyStore.Stop()
	}
}
