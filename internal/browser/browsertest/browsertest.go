// Package browsertest provides an in-memory browser.Driver for tests of
// code built on top of sessions.
package browsertest

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/ahrdadan/sessionfixture/internal/browser"
)

// ErrLaunch is a convenient launch failure.
var ErrLaunch = errors.New("browser executable not found")

// Driver is a fake driver. Every session it starts shares one Page.
type Driver struct {
	// LaunchErr fails Launch and Connect.
	LaunchErr error
	Page      *Page

	mu       sync.Mutex
	launches int
	connects int
	closed   int
}

// NewDriver returns a driver whose sessions succeed.
func NewDriver() *Driver {
	return &Driver{Page: &Page{}}
}

// Factory returns d for any driver name.
func (d *Driver) Factory() func(string) (browser.Driver, error) {
	return func(string) (browser.Driver, error) { return d, nil }
}

// Launches reports how many browsers were launched locally.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

// Closed reports how many times the driver was closed.
func (d *Driver) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) Name() string                       { return "fake" }
func (d *Driver) Version() string                    { return "0.0.0" }
func (d *Driver) Capabilities() browser.Capabilities { return browser.Capabilities{Tracing: true} }
func (d *Driver) DefaultEndpoint() string            { return "wss://remote.invalid/playwright" }

func (d *Driver) Launch(context.Context, browser.LaunchOptions) (browser.Browser, error) {
	d.mu.Lock()
	d.launches++
	d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	return &fakeBrowser{d: d}, nil
}

func (d *Driver) Connect(context.Context, string, browser.ConnectOptions) (browser.Browser, error) {
	d.mu.Lock()
	d.connects++
	d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	return &fakeBrowser{d: d}, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

type fakeBrowser struct{ d *Driver }

func (b *fakeBrowser) NewContext(context.Context, browser.ContextOptions) (browser.Context, error) {
	return &fakeContext{d: b.d}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakeContext struct{ d *Driver }

func (c *fakeContext) StartTracing(browser.TraceOptions) error { return nil }

func (c *fakeContext) StopTracing(path string) error {
	return os.WriteFile(path, []byte("trace"), 0o644)
}

func (c *fakeContext) NewPage(context.Context) (browser.Page, error) { return c.d.Page, nil }

func (c *fakeContext) Close() error { return nil }

// Page records the URLs it visited. Console lines in Console are emitted
// on every Goto.
type Page struct {
	// GotoErr fails every Goto.
	GotoErr error
	Console []string

	mu        sync.Mutex
	visited   []string
	consoleFn func(browser.ConsoleMessage)
}

// Visited returns the URLs passed to Goto.
func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

func (p *Page) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	p.visited = append(p.visited, url)
	fn := p.consoleFn
	p.mu.Unlock()
	if fn != nil {
		for _, line := range p.Console {
			fn(browser.ConsoleMessage{Type: "log", Text: line})
		}
	}
	if p.GotoErr != nil {
		return p.GotoErr
	}
	return ctx.Err()
}

func (p *Page) WaitForLoad(ctx context.Context) error                { return ctx.Err() }
func (p *Page) Fill(ctx context.Context, _, _ string) error          { return ctx.Err() }
func (p *Page) Click(ctx context.Context, _ string) error            { return ctx.Err() }
func (p *Page) WaitVisible(ctx context.Context, _ string) error      { return ctx.Err() }
func (p *Page) ClickIfPresent(context.Context, string) (bool, error) { return false, nil }
func (p *Page) Evaluate(context.Context, string, any) (any, error)   { return nil, nil }
func (p *Page) Screenshot(path string) error                         { return os.WriteFile(path, []byte("png"), 0o644) }
func (p *Page) OnPageError(func(error)) func()                       { return func() {} }
func (p *Page) Video() browser.Video                                 { return nil }
func (p *Page) Close() error                                         { return nil }

func (p *Page) OnConsole(fn func(browser.ConsoleMessage)) func() {
	p.mu.Lock()
	p.consoleFn = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.consoleFn = nil
		p.mu.Unlock()
	}
}
