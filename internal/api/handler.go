// Package api exposes fixture runs over HTTP.
package api

import (
	"errors"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ahrdadan/sessionfixture/internal/config"
	"github.com/ahrdadan/sessionfixture/internal/matrix"
	"github.com/ahrdadan/sessionfixture/internal/scenario"
)

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorHandler is the custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(Response{
		Success: false,
		Error:   err.Error(),
	})
}

// Handler serves service metadata.
type Handler struct {
	driver    string
	useRemote bool
	goos      string
	scenarios *scenario.Registry
}

// NewHandler creates a handler. useRemote selects the remote browser matrix.
func NewHandler(driver string, useRemote bool, scenarios *scenario.Registry) *Handler {
	return &Handler{
		driver:    driver,
		useRemote: useRemote,
		goos:      runtime.GOOS,
		scenarios: scenarios,
	}
}

// HealthCheck returns the health status
// GET /health
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: fiber.Map{
			"status":    "ok",
			"version":   config.Version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Matrix lists the browsers and scenarios a run can target
// GET /fixture/matrix
func (h *Handler) Matrix(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: fiber.Map{
			"driver":    h.driver,
			"remote":    h.useRemote,
			"browsers":  matrix.Entries(h.useRemote, h.goos),
			"scenarios": h.scenarios.Names(),
		},
	})
}
