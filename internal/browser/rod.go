package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/logging"
)

// CDPEndpoint is the provider endpoint for CDP clients.
const CDPEndpoint = "wss://cdp.browserstack.com/puppeteer"

// ErrUnsupported is returned for features a driver does not provide.
var ErrUnsupported = errors.New("not supported by this driver")

// RodDriver drives Chromium over CDP with rod. It cannot record traces or
// videos.
type RodDriver struct {
	logger *zap.Logger
	// Bin overrides the browser binary for local launches.
	Bin string
}

// NewRod creates a rod driver.
func NewRod(logger *zap.Logger) *RodDriver {
	return &RodDriver{logger: logging.OrNop(logger).Named("rod")}
}

func (d *RodDriver) Name() string    { return DriverRod }
func (d *RodDriver) Version() string { return "" }

func (d *RodDriver) Capabilities() Capabilities { return Capabilities{} }

func (d *RodDriver) DefaultEndpoint() string { return CDPEndpoint }

// Launch starts a local Chromium. The "chrome" channel resolves the
// installed Chrome binary; other channels are rejected.
func (d *RodDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if opts.Engine != Chromium && opts.Engine != "" {
		return nil, fmt.Errorf("rod driver: engine %s: %w", opts.Engine, ErrUnsupported)
	}

	l := launcher.New().Context(ctx).Headless(opts.Headless)
	switch {
	case d.Bin != "":
		l = l.Bin(d.Bin)
	case opts.Channel == "chrome":
		bin, ok := launcher.LookPath()
		if !ok {
			return nil, errors.New("rod driver: chrome channel requested but no installed browser was found")
		}
		l = l.Bin(bin)
	case opts.Channel != "":
		return nil, fmt.Errorf("rod driver: channel %s: %w", opts.Channel, ErrUnsupported)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	b := rod.New().ControlURL(wsURL).SlowMotion(opts.SlowMo)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to chromium: %w", err)
	}

	d.logger.Debug("chromium started", zap.String("endpoint", wsURL))
	return &rodBrowser{browser: b, launcher: l, timeout: opts.Timeout}, nil
}

// Connect attaches to a CDP websocket endpoint.
func (d *RodDriver) Connect(ctx context.Context, endpoint string, opts ConnectOptions) (Browser, error) {
	if opts.Engine != Chromium && opts.Engine != "" {
		return nil, fmt.Errorf("rod driver: engine %s: %w", opts.Engine, ErrUnsupported)
	}

	b := rod.New().Context(ctx).ControlURL(endpoint).SlowMotion(opts.SlowMo)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to remote browser: %w", err)
	}
	return &rodBrowser{browser: b.Context(context.Background()), timeout: opts.Timeout}, nil
}

func (d *RodDriver) Close() error { return nil }

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	timeout  time.Duration
	once     sync.Once
}

func (b *rodBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	if opts.RecordVideoDir != "" {
		return nil, fmt.Errorf("rod driver: video recording: %w", ErrUnsupported)
	}
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &rodContext{browser: incognito, opts: opts, timeout: b.timeout}, nil
}

func (b *rodBrowser) Close() error {
	var err error
	b.once.Do(func() {
		err = b.browser.Close()
		if b.launcher != nil {
			b.launcher.Kill()
			b.launcher.Cleanup()
		}
	})
	return err
}

type rodContext struct {
	browser *rod.Browser
	opts    ContextOptions
	timeout time.Duration
	pages   []*rod.Page
	mu      sync.Mutex
}

func (c *rodContext) StartTracing(TraceOptions) error {
	return fmt.Errorf("rod driver: tracing: %w", ErrUnsupported)
}

func (c *rodContext) StopTracing(string) error {
	return fmt.Errorf("rod driver: tracing: %w", ErrUnsupported)
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page = page.Context(context.Background())

	if c.opts.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: c.opts.TimezoneID}).Call(page); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("failed to set timezone: %w", err)
		}
	}
	if c.opts.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: c.opts.Locale}).Call(page); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("failed to set locale: %w", err)
		}
	}

	c.mu.Lock()
	c.pages = append(c.pages, page)
	c.mu.Unlock()

	return &rodPage{page: page, timeout: c.timeout}, nil
}

// Close disposes of the incognito context and its pages.
func (c *rodContext) Close() error {
	c.mu.Lock()
	pages := c.pages
	c.pages = nil
	c.mu.Unlock()

	for _, p := range pages {
		_ = p.Close()
	}
	return c.browser.Close()
}

type rodPage struct {
	page    *rod.Page
	timeout time.Duration
}

// bind scopes the page to ctx and the configured action timeout.
func (p *rodPage) bind(ctx context.Context) *rod.Page {
	page := p.page.Context(ctx)
	if p.timeout > 0 {
		page = page.Timeout(p.timeout)
	}
	return page
}

func (p *rodPage) Goto(ctx context.Context, url string) error {
	if err := p.bind(ctx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) WaitForLoad(ctx context.Context) error {
	if err := p.bind(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.bind(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.bind(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string) error {
	el, err := p.bind(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	return el.WaitVisible()
}

func (p *rodPage) ClickIfPresent(ctx context.Context, text string) (bool, error) {
	pattern := "^\\s*" + regexp.QuoteMeta(text) + "\\s*$"
	found, el, err := p.bind(ctx).HasR("button, [role='button'], a, div", pattern)
	if err != nil || !found {
		return false, err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return true, err
	}
	return true, el.WaitInvisible()
}

// Evaluate runs expression as a function with arg as its only parameter.
func (p *rodPage) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	res, err := p.bind(ctx).Eval(expression, arg)
	if err != nil {
		return nil, fmt.Errorf("script execution failed: %w", err)
	}
	return res.Value.Val(), nil
}

func (p *rodPage) Screenshot(path string) error {
	data, err := p.page.Screenshot(false, nil)
	if err != nil {
		return fmt.Errorf("failed to take screenshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *rodPage) OnConsole(fn func(ConsoleMessage)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	wait := p.page.Context(ctx).EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		fn(ConsoleMessage{Type: string(e.Type), Text: remoteObjectsText(e.Args)})
	})
	go wait()
	return cancel
}

func (p *rodPage) OnPageError(fn func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	wait := p.page.Context(ctx).EachEvent(func(e *proto.RuntimeExceptionThrown) {
		msg := e.ExceptionDetails.Text
		if ex := e.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			msg = ex.Description
		}
		fn(errors.New(msg))
	})
	go wait()
	return cancel
}

func (p *rodPage) Video() Video { return nil }

func (p *rodPage) Close() error {
	return p.page.Close()
}

// remoteObjectsText joins console arguments the way devtools prints them.
func remoteObjectsText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(obj *proto.RuntimeRemoteObject) string {
	if obj == nil {
		return ""
	}
	if obj.Value.Nil() {
		if obj.Description != "" {
			return obj.Description
		}
		return string(obj.Type)
	}
	if s, ok := obj.Value.Val().(string); ok {
		return s
	}
	return gson.New(obj.Value.Val()).JSON("", "")
}
