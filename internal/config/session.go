package config

import (
	"time"
)

// Defaults applied to every browser session.
const (
	DefaultDriver          = "playwright"
	DefaultEngine          = "chromium"
	DefaultLocale          = "en-GB"
	DefaultTimezoneID      = "Europe/London"
	DefaultProjectName     = "browser-session-fixture"
	DefaultRemoteEndpoint  = "wss://cdp.browserstack.com/playwright"
	DefaultCDPEndpoint     = "wss://cdp.browserstack.com/puppeteer"
	DefaultBrowserPrefix   = "playwright"
	DebugSlowMo            = 100 * time.Millisecond
	DefaultSessionDeadline = 5 * time.Minute
)

// Credentials identify an account on the remote browser provider.
type Credentials struct {
	UserName  string `yaml:"username" json:"username,omitempty"`
	AccessKey string `yaml:"access_key" json:"-"`
}

// Complete reports whether both halves of the credential pair are set.
func (c Credentials) Complete() bool {
	return c.UserName != "" && c.AccessKey != ""
}

// RemoteOptions configure sessions that run on the remote provider.
type RemoteOptions struct {
	Enabled     bool        `yaml:"enabled"`
	Credentials Credentials `yaml:"credentials"`
	// Endpoint is the provider websocket URL. Empty selects the default
	// endpoint of the driver in use.
	Endpoint string `yaml:"endpoint"`
	// BrowserPrefix is prepended to the engine name when no channel is set,
	// e.g. "playwright-chromium".
	BrowserPrefix string `yaml:"browser_prefix"`
}

// SessionOptions configure one browser session. Values are copied into the
// fixture and never mutated afterwards.
type SessionOptions struct {
	Engine  string `yaml:"engine"`
	Channel string `yaml:"channel"`
	Driver  string `yaml:"driver"`

	Build        string `yaml:"build"`
	CaptureTrace bool   `yaml:"capture_trace"`
	CaptureVideo bool   `yaml:"capture_video"`

	// Debug forces a headed browser with slow motion.
	Debug    bool          `yaml:"debug"`
	Headless bool          `yaml:"headless"`
	SlowMo   time.Duration `yaml:"slow_mo"`
	Timeout  time.Duration `yaml:"timeout"`

	Locale     string `yaml:"locale"`
	TimezoneID string `yaml:"timezone_id"`

	OperatingSystem        string `yaml:"os"`
	OperatingSystemVersion string `yaml:"os_version"`
	PlaywrightVersion      string `yaml:"playwright_version"`
	ProjectName            string `yaml:"project"`
	TestName               string `yaml:"test_name"`

	// ArtifactsDir is the root under which traces/, screenshots/ and
	// videos/ are created. Empty means the working directory.
	ArtifactsDir string `yaml:"artifacts_dir"`

	Remote RemoteOptions `yaml:"remote"`
}

// DefaultSessionOptions returns options for a local headless chromium session.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Engine:     DefaultEngine,
		Driver:     DefaultDriver,
		Headless:   true,
		Locale:     DefaultLocale,
		TimezoneID: DefaultTimezoneID,
		Remote: RemoteOptions{
			BrowserPrefix: DefaultBrowserPrefix,
		},
	}
}

// LaunchSettings resolves headless mode and slow motion, taking Debug into
// account.
func (o SessionOptions) LaunchSettings() (headless bool, slowMo time.Duration) {
	if o.Debug {
		return false, DebugSlowMo
	}
	return o.Headless, o.SlowMo
}
