package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ahrdadan/sessionfixture/internal/browser"
)

// recorder keeps the order in which fake browser calls happened.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.list() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) index(event string) int {
	for i, e := range r.list() {
		if e == event {
			return i
		}
	}
	return -1
}

type fakeDriver struct {
	rec         *recorder
	caps        browser.Capabilities
	page        *fakePage
	launchErr   error
	launchOpts  browser.LaunchOptions
	connectURL  string
	connectOpts browser.ConnectOptions
	contextOpts browser.ContextOptions
}

func newFakeDriver() *fakeDriver {
	rec := &recorder{}
	return &fakeDriver{
		rec:  rec,
		caps: browser.Capabilities{Tracing: true, Video: true},
		page: &fakePage{rec: rec},
	}
}

func (d *fakeDriver) Name() string                       { return "fake" }
func (d *fakeDriver) Version() string                    { return "1.52.0" }
func (d *fakeDriver) Capabilities() browser.Capabilities { return d.caps }
func (d *fakeDriver) DefaultEndpoint() string            { return "wss://grid.test/playwright" }

func (d *fakeDriver) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	d.rec.add("launch")
	d.launchOpts = opts
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	return &fakeBrowser{d: d}, nil
}

func (d *fakeDriver) Connect(_ context.Context, endpoint string, opts browser.ConnectOptions) (browser.Browser, error) {
	d.rec.add("connect")
	d.connectURL = endpoint
	d.connectOpts = opts
	return &fakeBrowser{d: d}, nil
}

func (d *fakeDriver) Close() error {
	d.rec.add("close driver")
	return nil
}

type fakeBrowser struct{ d *fakeDriver }

func (b *fakeBrowser) NewContext(_ context.Context, opts browser.ContextOptions) (browser.Context, error) {
	b.d.rec.add("new context")
	b.d.contextOpts = opts
	return &fakeContext{d: b.d}, nil
}

func (b *fakeBrowser) Close() error {
	b.d.rec.add("close browser")
	return nil
}

type fakeContext struct{ d *fakeDriver }

func (c *fakeContext) StartTracing(browser.TraceOptions) error {
	c.d.rec.add("start tracing")
	return nil
}

func (c *fakeContext) StopTracing(path string) error {
	c.d.rec.add("stop tracing")
	return os.WriteFile(path, []byte("trace"), 0o644)
}

func (c *fakeContext) NewPage(context.Context) (browser.Page, error) {
	c.d.rec.add("new page")
	return c.d.page, nil
}

func (c *fakeContext) Close() error {
	c.d.rec.add("close context")
	return nil
}

type fakePage struct {
	rec *recorder

	mu            sync.Mutex
	consoleFn     func(browser.ConsoleMessage)
	errorFn       func(error)
	closed        bool
	directives    []map[string]any
	details       any
	evalErr       error
	screenshotErr error
	video         *fakeVideo
}

func (p *fakePage) Goto(context.Context, string) error                  { return nil }
func (p *fakePage) WaitForLoad(context.Context) error                   { return nil }
func (p *fakePage) Fill(context.Context, string, string) error          { return nil }
func (p *fakePage) Click(context.Context, string) error                 { return nil }
func (p *fakePage) WaitVisible(context.Context, string) error           { return nil }
func (p *fakePage) ClickIfPresent(context.Context, string) (bool, error) { return false, nil }

func (p *fakePage) Evaluate(_ context.Context, expression string, arg any) (any, error) {
	s, _ := arg.(string)
	var directive map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(s, "browserstack_executor: ")), &directive); err != nil {
		return nil, fmt.Errorf("unexpected evaluate argument %q", s)
	}
	p.mu.Lock()
	p.directives = append(p.directives, directive)
	p.mu.Unlock()
	p.rec.add("evaluate %s", directive["action"])

	if p.evalErr != nil {
		return nil, p.evalErr
	}
	if directive["action"] == "getSessionDetails" {
		return p.details, nil
	}
	return nil, nil
}

func (p *fakePage) Screenshot(path string) error {
	p.rec.add("screenshot")
	if p.screenshotErr != nil {
		return p.screenshotErr
	}
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (p *fakePage) OnConsole(fn func(browser.ConsoleMessage)) func() {
	p.mu.Lock()
	p.consoleFn = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.consoleFn = nil
		p.mu.Unlock()
		p.rec.add("unsubscribe console")
	}
}

func (p *fakePage) OnPageError(fn func(error)) func() {
	p.mu.Lock()
	p.errorFn = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.errorFn = nil
		p.mu.Unlock()
	}
}

func (p *fakePage) emitConsole(text string) {
	p.mu.Lock()
	fn := p.consoleFn
	p.mu.Unlock()
	if fn != nil {
		fn(browser.ConsoleMessage{Type: "log", Text: text})
	}
}

func (p *fakePage) emitError(err error) {
	p.mu.Lock()
	fn := p.errorFn
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (p *fakePage) Video() browser.Video {
	if p.video == nil {
		return nil
	}
	return p.video
}

func (p *fakePage) Close() error {
	p.rec.add("close page")
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePage) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, d := range p.directives {
		if d["action"] != "setSessionStatus" {
			continue
		}
		args, _ := d["arguments"].(map[string]any)
		out = append(out, fmt.Sprintf("%v:%v", args["status"], args["reason"]))
	}
	return out
}

type fakeVideo struct {
	page *fakePage
	data []byte
}

func (v *fakeVideo) SaveAs(path string) error {
	v.page.rec.add("save video")
	v.page.mu.Lock()
	closed := v.page.closed
	v.page.mu.Unlock()
	if !closed {
		return errors.New("video is not finalized until the page is closed")
	}
	return os.WriteFile(path, v.data, 0o644)
}

// lines collects output sink lines.
type lines struct {
	mu  sync.Mutex
	all []string
}

func (l *lines) Logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, fmt.Sprintf(format, args...))
}

func (l *lines) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.all...)
}
