package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrdadan/sessionfixture/internal/fixture"
)

// Default values for run configuration
const (
	DefaultRunTimeout = 2 * time.Minute
	DefaultMaxRetries = 2
	DefaultResultTTL  = 24 * time.Hour
	DefaultRetryDelay = 5 * time.Second
	MaxRetryDelay     = 5 * time.Minute
)

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusPassed   RunStatus = "passed"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
	RunStatusRetrying RunStatus = "retrying"
)

// Terminal reports whether no further transitions happen.
func (s RunStatus) Terminal() bool {
	return s == RunStatusPassed || s == RunStatusFailed || s == RunStatusCanceled
}

// NotifyConfig holds notification settings for a run
type NotifyConfig struct {
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"` // For HMAC signature
}

// RetryConfig holds retry settings for a run. Only runs whose browser
// could not be acquired are retried.
type RetryConfig struct {
	MaxRetries    int     `json:"max_retries"`
	RetryDelay    int     `json:"retry_delay"`    // seconds
	BackoffFactor float64 `json:"backoff_factor"` // default 2.0
}

// RunRequest represents a run creation request
type RunRequest struct {
	Scenario       string        `json:"scenario"`
	Term           string        `json:"term,omitempty"`
	Engine         string        `json:"engine,omitempty"`
	Channel        string        `json:"channel,omitempty"`
	Driver         string        `json:"driver,omitempty"`
	CaptureTrace   *bool         `json:"capture_trace,omitempty"`
	CaptureVideo   bool          `json:"capture_video,omitempty"`
	TestName       string        `json:"test_name,omitempty"`
	Timeout        int           `json:"timeout,omitempty"` // seconds
	Notify         *NotifyConfig `json:"notify,omitempty"`
	Retry          *RetryConfig  `json:"retry,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	ResultTTL      int           `json:"result_ttl,omitempty"` // seconds
}

// Limits bound what a request may ask for.
type Limits struct {
	MaxTimeout time.Duration
	MaxRetries int
	ResultTTL  time.Duration
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxTimeout: 10 * time.Minute,
		MaxRetries: DefaultMaxRetries,
		ResultTTL:  DefaultResultTTL,
	}
}

// Run is one queued fixture session.
type Run struct {
	ID             string          `json:"run_id"`
	Status         RunStatus       `json:"status"`
	Message        string          `json:"message,omitempty"`
	Request        RunRequest      `json:"request"`
	Result         *fixture.Result `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
	StartedAt      int64           `json:"started_at,omitempty"`
	CompletedAt    int64           `json:"completed_at,omitempty"`
	ExpiresAt      int64           `json:"expires_at,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	NextRetryAt    int64           `json:"next_retry_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Timeout        int             `json:"timeout"` // seconds
}

// NewRun creates a queued run from a request, clamped to limits.
func NewRun(req RunRequest, limits Limits) *Run {
	now := time.Now()

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	if limits.MaxTimeout > 0 && timeout > limits.MaxTimeout {
		timeout = limits.MaxTimeout
	}

	maxRetries := limits.MaxRetries
	if req.Retry != nil && req.Retry.MaxRetries >= 0 && req.Retry.MaxRetries < maxRetries {
		maxRetries = req.Retry.MaxRetries
	}

	resultTTL := limits.ResultTTL
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	if req.ResultTTL > 0 {
		resultTTL = time.Duration(req.ResultTTL) * time.Second
	}

	return &Run{
		ID:             generateRunID(),
		Status:         RunStatusQueued,
		Request:        req,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpiresAt:      now.Add(resultTTL).Unix(),
		MaxRetries:     maxRetries,
		IdempotencyKey: req.IdempotencyKey,
		Timeout:        int(timeout / time.Second),
	}
}

// SetStatus updates the run status
func (r *Run) SetStatus(status RunStatus, message string) {
	now := time.Now().Unix()
	r.Status = status
	r.Message = message
	r.UpdatedAt = now

	if status == RunStatusRunning && r.StartedAt == 0 {
		r.StartedAt = now
	}
	if status.Terminal() {
		r.CompletedAt = now
	}
}

// Complete records the session outcome.
func (r *Run) Complete(result *fixture.Result, err error) {
	r.Result = result
	if err != nil {
		r.Error = err.Error()
		r.LastError = err.Error()
		r.SetStatus(RunStatusFailed, "Session failed")
		return
	}
	r.Error = ""
	r.SetStatus(RunStatusPassed, "Session passed")
}

// CanRetry returns true if the run can be retried
func (r *Run) CanRetry() bool {
	return r.RetryCount < r.MaxRetries
}

// PrepareRetry schedules the next attempt with exponential backoff.
func (r *Run) PrepareRetry(cause error) {
	r.RetryCount++
	r.LastError = cause.Error()

	backoffFactor := 2.0
	if r.Request.Retry != nil && r.Request.Retry.BackoffFactor > 0 {
		backoffFactor = r.Request.Retry.BackoffFactor
	}
	delay := DefaultRetryDelay
	if r.Request.Retry != nil && r.Request.Retry.RetryDelay > 0 {
		delay = time.Duration(r.Request.Retry.RetryDelay) * time.Second
	}
	for i := 1; i < r.RetryCount; i++ {
		delay = time.Duration(float64(delay) * backoffFactor)
	}
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}

	r.NextRetryAt = time.Now().Add(delay).Unix()
	r.SetStatus(RunStatusRetrying, "Retrying: "+cause.Error())
}

// IsExpired checks if the run result has expired
func (r *Run) IsExpired() bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() > r.ExpiresAt
}

// TimeoutDuration returns the run timeout as a time.Duration
func (r *Run) TimeoutDuration() time.Duration {
	if r.Timeout <= 0 {
		return DefaultRunTimeout
	}
	return time.Duration(r.Timeout) * time.Second
}

// RunStatusResponse represents a run status response
type RunStatusResponse struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  int64     `json:"created_at"`
	UpdatedAt  int64     `json:"updated_at"`
}

// RunResultResponse represents a run result response
type RunResultResponse struct {
	RunID  string          `json:"run_id"`
	Status RunStatus       `json:"status"`
	Result *fixture.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RunCreatedResponse represents the response when a run is created
type RunCreatedResponse struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	StatusURL string    `json:"status_url"`
	ResultURL string    `json:"result_url"`
	Events    struct {
		SSEURL string `json:"sse_url"`
		WSURL  string `json:"ws_url"`
	} `json:"events"`
}

func generateRunID() string {
	return "run_" + uuid.New().String()[:8]
}
