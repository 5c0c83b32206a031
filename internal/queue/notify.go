package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/logging"
	"github.com/ahrdadan/sessionfixture/internal/security"
)

// WebhookPayload is posted to a run's webhook when it finishes.
type WebhookPayload struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	ResultURL  string    `json:"result_url"`
	Error      string    `json:"error,omitempty"`
	FinishedAt int64     `json:"finished_at"`
}

// Notifier sends completion webhooks.
type Notifier struct {
	Client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewNotifier creates a notifier. Result URLs are built from baseURL.
func NewNotifier(baseURL string, logger *zap.Logger) *Notifier {
	return &Notifier{
		Client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logging.OrNop(logger).Named("webhook"),
	}
}

// Notify posts the run outcome to its webhook URL.
func (n *Notifier) Notify(ctx context.Context, run *Run) error {
	if run.Request.Notify == nil || run.Request.Notify.WebhookURL == "" {
		return nil
	}

	data, err := json.Marshal(WebhookPayload{
		RunID:      run.ID,
		Status:     run.Status,
		ResultURL:  fmt.Sprintf("%s/fixture/runs/%s/result", n.baseURL, run.ID),
		Error:      run.Error,
		FinishedAt: run.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, run.Request.Notify.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fixture-Event", "run."+string(run.Status))
	if secret := run.Request.Notify.WebhookSecret; secret != "" {
		req.Header.Set("X-Fixture-Signature", "sha256="+security.SignPayload(data, secret))
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	n.logger.Debug("webhook delivered", zap.String("run_id", run.ID), zap.Int("status", resp.StatusCode))
	return nil
}
