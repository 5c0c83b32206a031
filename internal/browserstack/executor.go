package browserstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	executorPrefix = "browserstack_executor: "
	// executorScript is a no-op; the provider intercepts its argument.
	executorScript = "_ => {}"
)

// Session status values accepted by setSessionStatus.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// ErrNoVideoURL is returned when session details carry no video URL.
var ErrNoVideoURL = errors.New("session details have no video url")

// Evaluator runs a script in a page. browser.Page satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, arg any) (any, error)
}

// Directive is a command for the provider executor.
type Directive struct {
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// SetSessionStatus builds the directive that marks the session outcome.
func SetSessionStatus(status, reason string) Directive {
	return Directive{
		Action: "setSessionStatus",
		Arguments: map[string]any{
			"status": status,
			"reason": reason,
		},
	}
}

// GetSessionDetails builds the directive that returns session metadata.
func GetSessionDetails() Directive {
	return Directive{Action: "getSessionDetails"}
}

// Encode renders the directive as the evaluate argument the provider
// expects.
func (d Directive) Encode() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s directive: %w", d.Action, err)
	}
	return executorPrefix + string(data), nil
}

// Send evaluates the directive in page and returns the raw result.
func Send(ctx context.Context, page Evaluator, d Directive) (any, error) {
	arg, err := d.Encode()
	if err != nil {
		return nil, err
	}
	res, err := page.Evaluate(ctx, executorScript, arg)
	if err != nil {
		return nil, fmt.Errorf("%s directive failed: %w", d.Action, err)
	}
	return res, nil
}

// SessionDetails is the subset of getSessionDetails used here.
type SessionDetails struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	BrowserURL string `json:"browser_url"`
	VideoURL   string `json:"video_url"`
}

// FetchSessionDetails asks the provider for the current session metadata.
func FetchSessionDetails(ctx context.Context, page Evaluator) (*SessionDetails, error) {
	res, err := Send(ctx, page, GetSessionDetails())
	if err != nil {
		return nil, err
	}
	return ParseSessionDetails(res)
}

// ParseSessionDetails decodes an evaluate result. The provider returns a
// JSON string; already-decoded objects are accepted too.
func ParseSessionDetails(res any) (*SessionDetails, error) {
	var data []byte
	switch v := res.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case nil:
		return nil, errors.New("empty session details")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to read session details: %w", err)
		}
		data = b
	}

	var details SessionDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("failed to parse session details: %w", err)
	}
	return &details, nil
}
