package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/logging"
)

// PlaywrightVersion is the playwright release driven by playwright-go.
const PlaywrightVersion = "1.52.0"

// PlaywrightEndpoint is the provider endpoint for playwright clients.
const PlaywrightEndpoint = "wss://cdp.browserstack.com/playwright"

type playwrightDriver struct {
	pw     *playwright.Playwright
	logger *zap.Logger
	once   sync.Once
}

// NewPlaywright starts the playwright driver process.
func NewPlaywright(logger *zap.Logger) (Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	return &playwrightDriver{pw: pw, logger: logging.OrNop(logger).Named("playwright")}, nil
}

// InstallPlaywright downloads the driver and the named browsers. No names
// installs every browser.
func InstallPlaywright(browsers ...string) error {
	opts := &playwright.RunOptions{Browsers: browsers}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("playwright install failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Name() string    { return DriverPlaywright }
func (d *playwrightDriver) Version() string { return PlaywrightVersion }

func (d *playwrightDriver) Capabilities() Capabilities {
	return Capabilities{Tracing: true, Video: true}
}

func (d *playwrightDriver) DefaultEndpoint() string { return PlaywrightEndpoint }

func (d *playwrightDriver) browserType(engine Engine) (playwright.BrowserType, error) {
	switch engine {
	case Chromium, "":
		return d.pw.Chromium, nil
	case Firefox:
		return d.pw.Firefox, nil
	case WebKit:
		return d.pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unknown browser engine: %q", engine)
	}
}

func (d *playwrightDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bt, err := d.browserType(opts.Engine)
	if err != nil {
		return nil, err
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.Channel != "" {
		launch.Channel = playwright.String(opts.Channel)
	}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(millis(opts.SlowMo))
	}
	if opts.Timeout > 0 {
		launch.Timeout = playwright.Float(millis(opts.Timeout))
	}

	b, err := bt.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", opts.Engine, err)
	}
	d.logger.Debug("browser launched", zap.String("engine", string(opts.Engine)), zap.String("channel", opts.Channel))
	return &pwBrowser{browser: b}, nil
}

func (d *playwrightDriver) Connect(ctx context.Context, endpoint string, opts ConnectOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bt, err := d.browserType(opts.Engine)
	if err != nil {
		return nil, err
	}

	connect := playwright.BrowserTypeConnectOptions{}
	if opts.SlowMo > 0 {
		connect.SlowMo = playwright.Float(millis(opts.SlowMo))
	}
	if opts.Timeout > 0 {
		connect.Timeout = playwright.Float(millis(opts.Timeout))
	}

	b, err := bt.Connect(endpoint, connect)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote browser: %w", err)
	}
	return &pwBrowser{browser: b}, nil
}

func (d *playwrightDriver) Close() error {
	var err error
	d.once.Do(func() {
		if stopErr := d.pw.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop playwright: %w", stopErr)
		}
	})
	return err
}

type pwBrowser struct {
	browser playwright.Browser
}

func (b *pwBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := playwright.BrowserNewContextOptions{}
	if opts.Locale != "" {
		options.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		options.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.RecordVideoDir != "" {
		options.RecordVideo = &playwright.RecordVideo{Dir: opts.RecordVideoDir}
	}

	c, err := b.browser.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &pwContext{context: c, recording: opts.RecordVideoDir != ""}, nil
}

func (b *pwBrowser) Close() error {
	return b.browser.Close()
}

type pwContext struct {
	context   playwright.BrowserContext
	recording bool
}

func (c *pwContext) StartTracing(opts TraceOptions) error {
	return c.context.Tracing().Start(playwright.TracingStartOptions{
		Title:       playwright.String(opts.Title),
		Screenshots: playwright.Bool(opts.Screenshots),
		Snapshots:   playwright.Bool(opts.Snapshots),
		Sources:     playwright.Bool(opts.Sources),
	})
}

func (c *pwContext) StopTracing(path string) error {
	return c.context.Tracing().Stop(path)
}

func (c *pwContext) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &pwPage{page: p, recording: c.recording}, nil
}

func (c *pwContext) Close() error {
	return c.context.Close()
}

type pwPage struct {
	page      playwright.Page
	recording bool
}

func (p *pwPage) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Goto(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *pwPage) WaitForLoad(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateLoad,
	})
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).Fill(value)
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).Click()
}

func (p *pwPage) WaitVisible(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).WaitFor(playwright.LocatorWaitForOptions{
		State: playwright.WaitForSelectorStateVisible,
	})
}

func (p *pwPage) ClickIfPresent(ctx context.Context, text string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	loc := p.page.Locator(fmt.Sprintf("text=%q", text)).First()
	count, err := loc.Count()
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}
	if err := loc.Click(); err != nil {
		return true, err
	}
	return true, loc.WaitFor(playwright.LocatorWaitForOptions{
		State: playwright.WaitForSelectorStateHidden,
	})
}

func (p *pwPage) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Evaluate(expression, arg)
}

func (p *pwPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	return err
}

func (p *pwPage) OnConsole(fn func(ConsoleMessage)) func() {
	var active atomic.Bool
	active.Store(true)
	handler := func(msg playwright.ConsoleMessage) {
		if active.Load() {
			fn(ConsoleMessage{Type: msg.Type(), Text: msg.Text()})
		}
	}
	p.page.OnConsole(handler)
	return func() {
		if active.Swap(false) {
			p.page.RemoveListener("console", handler)
		}
	}
}

func (p *pwPage) OnPageError(fn func(error)) func() {
	var active atomic.Bool
	active.Store(true)
	handler := func(err error) {
		if active.Load() {
			fn(err)
		}
	}
	p.page.OnPageError(handler)
	return func() {
		if active.Swap(false) {
			p.page.RemoveListener("pageerror", handler)
		}
	}
}

func (p *pwPage) Video() Video {
	if !p.recording {
		return nil
	}
	v := p.page.Video()
	if v == nil {
		return nil
	}
	return v
}

func (p *pwPage) Close() error {
	return p.page.Close()
}
