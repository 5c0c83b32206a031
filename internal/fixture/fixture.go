// Package fixture runs one browser session around a caller's interaction
// and captures traces, screenshots and videos on every exit path.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/artifact"
	"github.com/ahrdadan/sessionfixture/internal/browser"
	"github.com/ahrdadan/sessionfixture/internal/browserstack"
	"github.com/ahrdadan/sessionfixture/internal/config"
	"github.com/ahrdadan/sessionfixture/internal/logging"
	"github.com/ahrdadan/sessionfixture/internal/video"
)

// Action is the interaction run against the page.
type Action func(ctx context.Context, page browser.Page) error

// DriverFactory opens a browser driver by name.
type DriverFactory func(name string) (browser.Driver, error)

// Session outcomes.
const (
	StatusPassed = browserstack.StatusPassed
	StatusFailed = browserstack.StatusFailed
)

// Artifact is a file written by a session.
type Artifact struct {
	Kind artifact.Kind `json:"kind"`
	Path string        `json:"path"`
}

// Result summarises a finished session.
type Result struct {
	TestName  string     `json:"test_name"`
	Mode      Mode       `json:"mode"`
	Status    string     `json:"status,omitempty"`
	Error     string     `json:"error,omitempty"`
	VideoURL  string     `json:"video_url,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

func (r *Result) add(kind artifact.Kind, path string) {
	r.Artifacts = append(r.Artifacts, Artifact{Kind: kind, Path: path})
}

// Fixture orchestrates browser sessions for one configuration. A Fixture
// may run several sessions, one at a time or concurrently; sessions share
// nothing but the artifact directories.
type Fixture struct {
	opts      config.SessionOptions
	engine    browser.Engine
	out       Output
	logger    *zap.Logger
	drivers   DriverFactory
	retriever *video.Retriever
	now       func() time.Time
	goos      string
	tempDir   string
}

// Option customises a Fixture.
type Option func(*Fixture)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fixture) { f.logger = logger }
}

// WithDriverFactory replaces browser.Open.
func WithDriverFactory(factory DriverFactory) Option {
	return func(f *Fixture) { f.drivers = factory }
}

// WithRetriever replaces the remote video retriever.
func WithRetriever(r *video.Retriever) Option {
	return func(f *Fixture) { f.retriever = r }
}

// WithClock sets the clock used in artifact names.
func WithClock(now func() time.Time) Option {
	return func(f *Fixture) { f.now = now }
}

// WithVideoTempDir sets where browsers record videos before they are saved.
func WithVideoTempDir(dir string) Option {
	return func(f *Fixture) { f.tempDir = dir }
}

// New creates a fixture. out may be nil.
func New(opts config.SessionOptions, out Output, options ...Option) (*Fixture, error) {
	engine, err := browser.ParseEngine(opts.Engine)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = discard
	}

	f := &Fixture{
		opts:    opts,
		engine:  engine,
		out:     out,
		now:     time.Now,
		goos:    runtime.GOOS,
		tempDir: os.TempDir(),
	}
	for _, o := range options {
		o(f)
	}

	f.logger = logging.OrNop(f.logger).Named("fixture").With(
		zap.String("engine", string(engine)),
		zap.String("channel", opts.Channel),
	)
	if f.drivers == nil {
		f.drivers = func(name string) (browser.Driver, error) {
			return browser.Open(name, f.logger)
		}
	}
	if f.retriever == nil {
		f.retriever = video.NewRetriever(opts.ArtifactsDir, f.logger)
	}
	return f, nil
}

// Options returns the configuration the fixture was built with.
func (f *Fixture) Options() config.SessionOptions {
	return f.opts
}

// WithPage runs action against a fresh page and returns the interaction's
// error unchanged, or a retrieval error for a remote video.
func (f *Fixture) WithPage(ctx context.Context, testName string, action Action) error {
	_, err := f.Run(ctx, testName, action)
	return err
}

// session is the state of one Run.
type session struct {
	name      string
	namer     artifact.Namer
	mode      Mode
	page      browser.Page
	result    *Result
	videoURL  string
	closeOnce sync.Once
}

// closePage closes the page at most once.
func (s *session) closePage(f *Fixture) {
	s.closeOnce.Do(func() {
		if err := s.page.Close(); err != nil {
			f.logger.Debug("failed to close page", zap.Error(err))
		}
	})
}

// Run is WithPage returning the session summary. The summary is non-nil
// whenever a session was attempted.
func (f *Fixture) Run(ctx context.Context, testName string, action Action) (*Result, error) {
	name := f.opts.TestName
	if name == "" {
		name = testName
	}
	if name == "" {
		return nil, errors.New("test name is required")
	}

	s := &session{
		name: name,
		namer: artifact.Namer{
			Engine:  string(f.engine),
			Channel: f.opts.Channel,
			GOOS:    f.goos,
			Now:     f.now,
		},
		result: &Result{TestName: name},
	}

	err := f.runSession(ctx, s, action)
	return s.result, err
}

func (f *Fixture) runSession(ctx context.Context, s *session, action Action) (err error) {
	driver, err := f.drivers(f.opts.Driver)
	if err != nil {
		return &AcquireError{Stage: "start browser driver", Err: err}
	}
	defer f.release("driver", driver.Close)

	// The video is downloaded once the browser is gone.
	defer func() {
		if s.videoURL == "" {
			return
		}
		path, rerr := f.retriever.Retrieve(ctx, s.videoURL, s.namer, s.name)
		switch {
		case rerr != nil && err == nil:
			err = rerr
		case rerr != nil:
			f.logger.Warn("failed to retrieve remote video", zap.Error(rerr))
		case path != "":
			s.result.add(artifact.Videos, path)
			f.out.Logf("Video saved to %s.", path)
		}
	}()

	return f.runInBrowser(ctx, driver, s, action)
}

func (f *Fixture) runInBrowser(ctx context.Context, driver browser.Driver, s *session, action Action) error {
	b, mode, err := f.acquireBrowser(ctx, driver, s.name)
	if err != nil {
		return err
	}
	defer f.release("browser", b.Close)

	s.mode = mode
	s.result.Mode = mode
	strategy := strategies[mode]

	bctx, err := b.NewContext(ctx, f.contextOptions(driver, mode))
	if err != nil {
		return &AcquireError{Stage: "create browser context", Err: err}
	}
	defer f.release("context", bctx.Close)

	tracing := f.opts.CaptureTrace && strategy.traces
	if tracing && !driver.Capabilities().Tracing {
		f.logger.Info("tracing is not supported by driver", zap.String("driver", driver.Name()))
		tracing = false
	}
	if tracing {
		err := bctx.StartTracing(browser.TraceOptions{
			Title:       s.name,
			Screenshots: true,
			Snapshots:   true,
			Sources:     true,
		})
		if err != nil {
			f.logger.Warn("failed to start tracing", zap.Error(err))
			tracing = false
		}
	}

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return &AcquireError{Stage: "open page", Err: err}
	}
	s.page = page
	defer s.closePage(f)

	stopConsole := page.OnConsole(func(msg browser.ConsoleMessage) {
		f.out.Logf("%s", msg.Text)
	})
	defer stopConsole()
	stopErrors := page.OnPageError(func(err error) {
		f.out.Logf("Page error: %v", err)
	})
	defer stopErrors()

	finished := false
	defer func() {
		if !finished {
			f.recordFailure(ctx, s, strategy, errAborted)
		}
		if tracing {
			f.stopTrace(bctx, s)
		}
		if f.opts.CaptureVideo {
			s.videoURL = strategy.finalizeVideo(f, ctx, s, page.Video())
		}
	}()

	actionErr := invoke(ctx, action, page)
	finished = true

	if actionErr != nil {
		f.recordFailure(ctx, s, strategy, actionErr)
		return actionErr
	}

	s.result.Status = StatusPassed
	f.report(ctx, s, strategy, StatusPassed, "")
	return nil
}

// invoke runs action once, turning a panic into a *PanicError.
func invoke(ctx context.Context, action Action, page browser.Page) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return action(ctx, page)
}

func (f *Fixture) acquireBrowser(ctx context.Context, driver browser.Driver, testName string) (browser.Browser, Mode, error) {
	headless, slowMo := f.opts.LaunchSettings()

	if f.resolveMode() == Local {
		b, err := driver.Launch(ctx, browser.LaunchOptions{
			Engine:   f.engine,
			Channel:  f.opts.Channel,
			Headless: headless,
			SlowMo:   slowMo,
			Timeout:  f.opts.Timeout,
		})
		if err != nil {
			return nil, Local, &AcquireError{Stage: "launch browser", Err: err}
		}
		return b, Local, nil
	}

	endpoint, err := f.remoteEndpoint(driver, testName)
	if err != nil {
		return nil, Remote, &AcquireError{Stage: "build remote endpoint", Err: err}
	}
	b, err := driver.Connect(ctx, endpoint, browser.ConnectOptions{
		Engine:  f.engine,
		SlowMo:  slowMo,
		Timeout: f.opts.Timeout,
	})
	if err != nil {
		return nil, Remote, &AcquireError{Stage: "connect to remote browser", Err: err}
	}
	return b, Remote, nil
}

// resolveMode selects Remote only when it is enabled and the credential
// pair is complete.
func (f *Fixture) resolveMode() Mode {
	if !f.opts.Remote.Enabled {
		return Local
	}
	if !f.opts.Remote.Credentials.Complete() {
		f.logger.Warn("remote sessions enabled without credentials, launching locally")
		return Local
	}
	return Remote
}

func (f *Fixture) remoteEndpoint(driver browser.Driver, testName string) (string, error) {
	base := f.opts.Remote.Endpoint
	if base == "" {
		base = driver.DefaultEndpoint()
	}
	prefix := f.opts.Remote.BrowserPrefix
	if prefix == "" {
		prefix = config.DefaultBrowserPrefix
	}
	clientVersion := f.opts.PlaywrightVersion
	if clientVersion == "" {
		clientVersion = driver.Version()
	}
	build := f.opts.Build
	if build == "" {
		build = config.Version
	}
	project := f.opts.ProjectName
	if project == "" {
		project = config.DefaultProjectName
	}

	return browserstack.Endpoint(base, browserstack.Capabilities{
		Browser:       browserstack.BrowserName(prefix, string(f.engine), f.opts.Channel),
		AccessKey:     f.opts.Remote.Credentials.AccessKey,
		UserName:      f.opts.Remote.Credentials.UserName,
		Build:         build,
		ClientVersion: clientVersion,
		Name:          testName,
		OS:            f.opts.OperatingSystem,
		OSVersion:     f.opts.OperatingSystemVersion,
		Project:       project,
	})
}

// contextOptions records video locally only; remote providers record their
// own sessions.
func (f *Fixture) contextOptions(driver browser.Driver, mode Mode) browser.ContextOptions {
	opts := browser.ContextOptions{
		Locale:     f.opts.Locale,
		TimezoneID: f.opts.TimezoneID,
	}
	if f.opts.CaptureVideo && mode == Local {
		if driver.Capabilities().Video {
			opts.RecordVideoDir = f.tempDir
		} else {
			f.logger.Info("video recording is not supported by driver", zap.String("driver", driver.Name()))
		}
	}
	return opts
}

// release runs a scope's close function and logs its error.
func (f *Fixture) release(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		f.logger.Debug(fmt.Sprintf("failed to close %s", what), zap.Error(err))
	}
}
