package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables consulted by LoadEnvironment.
const (
	EnvGitHubActions  = "GITHUB_ACTIONS"
	EnvRunNumber      = "GITHUB_RUN_NUMBER"
	EnvRepository     = "GITHUB_REPOSITORY"
	EnvRemoteUser     = "BROWSERSTACK_USERNAME"
	EnvRemoteToken    = "BROWSERSTACK_TOKEN"
	EnvRemoteKey      = "BROWSERSTACK_ACCESS_KEY"
	EnvDebug          = "FIXTURE_DEBUG"
	EnvDriver         = "FIXTURE_DRIVER"
	EnvArtifactsDir   = "FIXTURE_ARTIFACTS_DIR"
	EnvCaptureTrace   = "FIXTURE_CAPTURE_TRACE"
	EnvRemoteEndpoint = "FIXTURE_REMOTE_ENDPOINT"
	EnvSessionTimeout = "FIXTURE_TIMEOUT"
)

// Environment is the process-level state that seeds session defaults. It is
// resolved once and passed around explicitly.
type Environment struct {
	CI          bool
	Debug       bool
	Credentials Credentials
	RunNumber   string
	Repository  string

	Driver         string
	ArtifactsDir   string
	CaptureTrace   bool
	RemoteEndpoint string
	Timeout        time.Duration
}

// LoadEnvironment reads the process environment.
func LoadEnvironment() Environment {
	return EnvironmentFrom(os.Getenv)
}

// EnvironmentFrom builds an Environment from a getenv-style lookup.
func EnvironmentFrom(getenv func(string) string) Environment {
	e := env(getenv)
	return Environment{
		CI:    getenv(EnvGitHubActions) != "",
		Debug: e.boolOr(EnvDebug, false),
		Credentials: Credentials{
			UserName:  getenv(EnvRemoteUser),
			AccessKey: e.or(EnvRemoteToken, getenv(EnvRemoteKey)),
		},
		RunNumber:      getenv(EnvRunNumber),
		Repository:     getenv(EnvRepository),
		Driver:         e.or(EnvDriver, DefaultDriver),
		ArtifactsDir:   getenv(EnvArtifactsDir),
		CaptureTrace:   e.boolOr(EnvCaptureTrace, false),
		RemoteEndpoint: getenv(EnvRemoteEndpoint),
		Timeout:        e.durationOr(EnvSessionTimeout, 0),
	}
}

// UseRemote reports whether remote credentials were resolved.
func (e Environment) UseRemote() bool {
	return e.Credentials.Complete()
}

// DefaultBuild returns the CI run number, or the application version
// outside CI.
func (e Environment) DefaultBuild() string {
	if e.RunNumber != "" {
		return e.RunNumber
	}
	return Version
}

// DefaultProject returns the repository name from "owner/name", or
// DefaultProjectName.
func (e Environment) DefaultProject() string {
	if _, name, ok := strings.Cut(e.Repository, "/"); ok && name != "" {
		return name
	}
	return DefaultProjectName
}

// SessionOptions returns session defaults for the given engine and channel.
func (e Environment) SessionOptions(engine, channel string) SessionOptions {
	opts := DefaultSessionOptions()
	if engine != "" {
		opts.Engine = engine
	}
	opts.Channel = channel
	opts.Driver = e.Driver
	opts.Build = e.DefaultBuild()
	opts.ProjectName = e.DefaultProject()
	opts.CaptureTrace = e.CaptureTrace
	opts.CaptureVideo = e.CI
	opts.Debug = e.Debug
	opts.Timeout = e.Timeout
	opts.ArtifactsDir = e.ArtifactsDir
	opts.Remote.Enabled = e.UseRemote()
	opts.Remote.Credentials = e.Credentials
	opts.Remote.Endpoint = e.RemoteEndpoint
	return opts
}

// env wraps a lookup with typed fallbacks.
type env func(string) string

func (e env) or(key, fallback string) string {
	if v := e(key); v != "" {
		return v
	}
	return fallback
}

func (e env) boolOr(key string, fallback bool) bool {
	if v := e(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (e env) durationOr(key string, fallback time.Duration) time.Duration {
	if v := e(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
