// Package browser abstracts the automation library that drives a browser so
// that a session can run on playwright or rod.
package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Engine is a browser engine family.
type Engine string

const (
	Chromium Engine = "chromium"
	Firefox  Engine = "firefox"
	WebKit   Engine = "webkit"
)

// ParseEngine validates an engine name.
func ParseEngine(name string) (Engine, error) {
	switch e := Engine(name); e {
	case Chromium, Firefox, WebKit:
		return e, nil
	default:
		return "", fmt.Errorf("unknown browser engine: %q", name)
	}
}

// Capabilities describe optional features of a driver.
type Capabilities struct {
	Tracing bool
	Video   bool
}

// LaunchOptions configure a locally started browser.
type LaunchOptions struct {
	Engine   Engine
	Channel  string
	Headless bool
	SlowMo   time.Duration
	Timeout  time.Duration
}

// ConnectOptions configure a connection to a remote browser.
type ConnectOptions struct {
	Engine  Engine
	SlowMo  time.Duration
	Timeout time.Duration
}

// ContextOptions configure an isolated browsing context.
type ContextOptions struct {
	Locale     string
	TimezoneID string
	// RecordVideoDir enables video recording into the directory when set.
	RecordVideoDir string
}

// TraceOptions configure trace recording.
type TraceOptions struct {
	Title       string
	Screenshots bool
	Snapshots   bool
	Sources     bool
}

// ConsoleMessage is a message the page wrote to its console.
type ConsoleMessage struct {
	Type string
	Text string
}

// Driver starts or connects to browsers.
type Driver interface {
	Name() string
	// Version is the automation client version reported to remote providers.
	Version() string
	Capabilities() Capabilities
	// DefaultEndpoint is the remote provider endpoint for this driver.
	DefaultEndpoint() string
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	Connect(ctx context.Context, endpoint string, opts ConnectOptions) (Browser, error)
	Close() error
}

// Browser is a running browser.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Context is an isolated browsing context within a browser.
type Context interface {
	StartTracing(opts TraceOptions) error
	StopTracing(path string) error
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	Goto(ctx context.Context, url string) error
	WaitForLoad(ctx context.Context) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string) error
	// ClickIfPresent clicks the element whose text is exactly text and waits
	// for it to disappear. It reports whether the element existed.
	ClickIfPresent(ctx context.Context, text string) (bool, error)
	Evaluate(ctx context.Context, expression string, arg any) (any, error)
	Screenshot(path string) error
	// OnConsole subscribes to console output. The returned function
	// unsubscribes and is safe to call more than once.
	OnConsole(fn func(ConsoleMessage)) (unsubscribe func())
	OnPageError(fn func(error)) (unsubscribe func())
	// Video returns the recording of this page, or nil.
	Video() Video
	Close() error
}

// Video is a page recording that becomes readable once the page is closed.
type Video interface {
	SaveAs(path string) error
}

// Driver names accepted by Open.
const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

// Open starts the named driver.
func Open(name string, logger *zap.Logger) (Driver, error) {
	switch name {
	case DriverPlaywright, "":
		return NewPlaywright(logger)
	case DriverRod:
		return NewRod(logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver: %q", name)
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
