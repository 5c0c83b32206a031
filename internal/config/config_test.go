package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestEnvironmentOutsideCI(t *testing.T) {
	env := EnvironmentFrom(lookup(nil))

	assert.False(t, env.CI)
	assert.False(t, env.UseRemote())
	assert.Equal(t, Version, env.DefaultBuild())
	assert.Equal(t, DefaultProjectName, env.DefaultProject())

	opts := env.SessionOptions("firefox", "")
	assert.Equal(t, "firefox", opts.Engine)
	assert.False(t, opts.CaptureVideo)
	assert.False(t, opts.Remote.Enabled)
	assert.Equal(t, DefaultLocale, opts.Locale)
	assert.Equal(t, DefaultTimezoneID, opts.TimezoneID)
	assert.True(t, opts.Headless)
}

func TestEnvironmentInCI(t *testing.T) {
	env := EnvironmentFrom(lookup(map[string]string{
		EnvGitHubActions: "true",
		EnvRunNumber:     "42",
		EnvRepository:    "octo/search-tests",
		EnvRemoteUser:    "alice",
		EnvRemoteToken:   "secret",
	}))

	assert.True(t, env.CI)
	assert.True(t, env.UseRemote())
	assert.Equal(t, "42", env.DefaultBuild())
	assert.Equal(t, "search-tests", env.DefaultProject())

	opts := env.SessionOptions("chromium", "msedge")
	assert.True(t, opts.CaptureVideo)
	assert.True(t, opts.Remote.Enabled)
	assert.Equal(t, "alice", opts.Remote.Credentials.UserName)
	assert.Equal(t, "secret", opts.Remote.Credentials.AccessKey)
	assert.Equal(t, "msedge", opts.Channel)
}

func TestEnvironmentAccessKeyFallback(t *testing.T) {
	env := EnvironmentFrom(lookup(map[string]string{
		EnvRemoteUser: "alice",
		EnvRemoteKey:  "key",
	}))
	assert.Equal(t, "key", env.Credentials.AccessKey)
}

func TestCredentialsComplete(t *testing.T) {
	assert.False(t, Credentials{}.Complete())
	assert.False(t, Credentials{UserName: "u"}.Complete())
	assert.False(t, Credentials{AccessKey: "k"}.Complete())
	assert.True(t, Credentials{UserName: "u", AccessKey: "k"}.Complete())
}

func TestLaunchSettingsDebug(t *testing.T) {
	opts := DefaultSessionOptions()
	headless, slowMo := opts.LaunchSettings()
	assert.True(t, headless)
	assert.Zero(t, slowMo)

	opts.Debug = true
	headless, slowMo = opts.LaunchSettings()
	assert.False(t, headless)
	assert.Equal(t, 100*time.Millisecond, slowMo)
}

func TestLoadSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	doc := `
engine: firefox
capture_trace: true
timeout: 45s
remote:
  endpoint: wss://example.test/playwright
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	opts, err := LoadSessionFile(path, DefaultSessionOptions())
	require.NoError(t, err)
	assert.Equal(t, "firefox", opts.Engine)
	assert.True(t, opts.CaptureTrace)
	assert.Equal(t, 45*time.Second, opts.Timeout)
	assert.Equal(t, "wss://example.test/playwright", opts.Remote.Endpoint)
	assert.Equal(t, DefaultLocale, opts.Locale)
	assert.Equal(t, DefaultBrowserPrefix, opts.Remote.BrowserPrefix)
}

func TestParseSessionInvalid(t *testing.T) {
	base := DefaultSessionOptions()
	opts, err := ParseSession([]byte("engine: [unterminated"), base)
	require.Error(t, err)
	assert.Equal(t, base, opts)
}

func TestParseFlags(t *testing.T) {
	cfg, err := ParseFlags([]string{"-port", "9000", "-max-retries", "50", "-driver", "rod"})
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10, cfg.MaxRetries)
	assert.Equal(t, "rod", cfg.Driver)
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)

	_, err = ParseFlags([]string{"-driver", "selenium"})
	require.Error(t, err)
}

func TestParseRunnerFlags(t *testing.T) {
	cfg, err := ParseRunnerFlags([]string{"-matrix", "-parallel", "0", "-term", "go"})
	require.NoError(t, err)
	assert.True(t, cfg.Matrix)
	assert.Equal(t, 1, cfg.Parallel)
	assert.Equal(t, "go", cfg.Term)
	assert.Equal(t, "search", cfg.Scenario)
}
