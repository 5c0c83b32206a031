package browserstack

import (
	"context"

	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/logging"
)

// Reporter marks remote sessions as passed or failed. A disabled reporter
// never touches the page.
type Reporter struct {
	enabled bool
	logger  *zap.Logger
}

// NewReporter creates a reporter.
func NewReporter(enabled bool, logger *zap.Logger) *Reporter {
	return &Reporter{enabled: enabled, logger: logging.OrNop(logger)}
}

// Enabled reports whether statuses are sent.
func (r *Reporter) Enabled() bool {
	return r != nil && r.enabled
}

// Report sends the session status. Failures are returned for the caller to
// log; they never replace the session outcome.
func (r *Reporter) Report(ctx context.Context, page Evaluator, status, reason string) error {
	if !r.Enabled() {
		return nil
	}
	_, err := Send(ctx, page, SetSessionStatus(status, reason))
	if err == nil {
		r.logger.Debug("session status reported", zap.String("status", status))
	}
	return err
}
