package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/logging"
	"github.com/ahrdadan/sessionfixture/internal/queue"
	"github.com/ahrdadan/sessionfixture/internal/scenario"
	"github.com/ahrdadan/sessionfixture/internal/security"
)

// RunQueue is the part of queue.Manager the handlers use.
type RunQueue interface {
	Submit(ctx context.Context, req queue.RunRequest) (*queue.Run, bool, error)
	Get(id string) (*queue.Run, error)
	Cancel(id string) (*queue.Run, error)
	Subscribe(id string) <-chan queue.Event
	Unsubscribe(id string, ch <-chan queue.Event)
}

// RunHandler handles run-related API requests
type RunHandler struct {
	runs             RunQueue
	scenarios        *scenario.Registry
	idempotencyStore *security.IdempotencyStore
	baseURL          string
	logger           *zap.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runs RunQueue, scenarios *scenario.Registry, idempotencyStore *security.IdempotencyStore, baseURL string, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		runs:             runs,
		scenarios:        scenarios,
		idempotencyStore: idempotencyStore,
		baseURL:          strings.TrimRight(baseURL, "/"),
		logger:           logging.OrNop(logger).Named("api"),
	}
}

func (h *RunHandler) created(run *queue.Run) queue.RunCreatedResponse {
	resp := queue.RunCreatedResponse{
		RunID:     run.ID,
		Status:    run.Status,
		StatusURL: fmt.Sprintf("%s/fixture/runs/%s", h.baseURL, run.ID),
		ResultURL: fmt.Sprintf("%s/fixture/runs/%s/result", h.baseURL, run.ID),
	}
	resp.Events.SSEURL = fmt.Sprintf("%s/fixture/runs/%s/events", h.baseURL, run.ID)
	wsBase := strings.Replace(h.baseURL, "http", "ws", 1)
	resp.Events.WSURL = fmt.Sprintf("%s/fixture/ws?run_id=%s", wsBase, run.ID)
	return resp
}

// CreateRun queues a new fixture run
// POST /fixture/runs
func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	var req queue.RunRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := queue.Validate(req, h.scenarios); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if key := c.Get(security.HeaderIdempotencyKey); key != "" {
		req.IdempotencyKey = key
	}

	run, duplicate, err := h.runs.Submit(c.UserContext(), req)
	if err != nil {
		h.logger.Error("failed to queue run", zap.Error(err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "Failed to queue run")
	}

	response := h.created(run)
	if req.IdempotencyKey != "" && !duplicate {
		h.idempotencyStore.Store(req.IdempotencyKey, run.ID, Response{Success: true, Data: response})
	}
	if duplicate {
		c.Set(security.HeaderIdempotencyReplayed, "true")
	}

	return c.Status(fiber.StatusAccepted).JSON(Response{
		Success: true,
		Data:    response,
	})
}

func (h *RunHandler) lookup(c *fiber.Ctx) (*queue.Run, error) {
	id := c.Params("run_id")
	if id == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Run ID is required")
	}
	run, err := h.runs.Get(id)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Run not found")
	}
	return run, nil
}

// GetRunStatus returns the status of a run
// GET /fixture/runs/:run_id
func (h *RunHandler) GetRunStatus(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}

	data := fiber.Map{
		"run_id":     run.ID,
		"status":     run.Status,
		"message":    run.Message,
		"scenario":   run.Request.Scenario,
		"created_at": run.CreatedAt,
		"updated_at": run.UpdatedAt,
	}
	if run.Status == queue.RunStatusRetrying || run.RetryCount > 0 {
		retry := fiber.Map{
			"retry_count": run.RetryCount,
			"max_retries": run.MaxRetries,
			"last_error":  run.LastError,
		}
		if run.NextRetryAt > 0 {
			retry["next_retry_at"] = time.Unix(run.NextRetryAt, 0).UTC().Format(time.RFC3339)
		}
		data["retry_info"] = retry
	}
	if run.ExpiresAt > 0 {
		data["expires_at"] = time.Unix(run.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}

	return c.JSON(Response{Success: true, Data: data})
}

// GetRunResult returns the session outcome of a finished run
// GET /fixture/runs/:run_id/result
func (h *RunHandler) GetRunResult(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}
	if !run.Status.Terminal() {
		return fiber.NewError(fiber.StatusConflict, "Run not finished yet")
	}

	return c.JSON(Response{
		Success: true,
		Data: queue.RunResultResponse{
			RunID:  run.ID,
			Status: run.Status,
			Result: run.Result,
			Error:  run.Error,
		},
	})
}

// CancelRun cancels a queued or running run
// POST /fixture/runs/:run_id/cancel
func (h *RunHandler) CancelRun(c *fiber.Ctx) error {
	run, err := h.runs.Cancel(c.Params("run_id"))
	switch {
	case errors.Is(err, queue.ErrRunNotFound), errors.Is(err, queue.ErrRunExpired):
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	case errors.Is(err, queue.ErrNotCancelable):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case err != nil:
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: fiber.Map{
			"run_id": run.ID,
			"status": run.Status,
		},
	})
}

func initialEvent(run *queue.Run) queue.Event {
	return queue.Event{RunID: run.ID, Status: run.Status, Message: run.Message, Result: run.Result}
}

// StreamEvents streams run events via SSE
// GET /fixture/runs/:run_id/events
func (h *RunHandler) StreamEvents(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	var events <-chan queue.Event
	if !run.Status.Terminal() {
		events = h.runs.Subscribe(run.ID)
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if events != nil {
			defer h.runs.Unsubscribe(run.ID, events)
		}
		if !writeSSE(w, initialEvent(run)) || events == nil {
			return
		}
		for event := range events {
			if !writeSSE(w, event) || event.Status.Terminal() {
				return
			}
		}
	})
	return nil
}

// writeSSE writes one event and reports whether the client is still there.
func writeSSE(w *bufio.Writer, event queue.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Status, data); err != nil {
		return false
	}
	return w.Flush() == nil
}

// HandleWebSocket streams run events over a websocket
// GET /fixture/ws?run_id=
func (h *RunHandler) HandleWebSocket(c *websocket.Conn) {
	defer c.Close()

	id := c.Query("run_id")
	if id == "" {
		_ = c.WriteJSON(fiber.Map{"error": "run_id is required"})
		return
	}
	run, err := h.runs.Get(id)
	if err != nil {
		_ = c.WriteJSON(fiber.Map{"error": "run not found"})
		return
	}

	if err := c.WriteJSON(initialEvent(run)); err != nil || run.Status.Terminal() {
		return
	}

	events := h.runs.Subscribe(id)
	defer h.runs.Unsubscribe(id, events)
	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			return
		}
		if event.Status.Terminal() {
			return
		}
	}
}
