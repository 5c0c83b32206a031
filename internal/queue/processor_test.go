package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ahrdadan/sessionfixture/internal/browser/browsertest"
	"github.com/ahrdadan/sessionfixture/internal/config"
	"github.com/ahrdadan/sessionfixture/internal/fixture"
	"github.com/ahrdadan/sessionfixture/internal/scenario"
)

func newTestProcessor(t *testing.T, d *browsertest.Driver) *FixtureProcessor {
	base := config.DefaultSessionOptions()
	base.ArtifactsDir = t.TempDir()
	return NewFixtureProcessor(base, scenario.NewRegistry(), zaptest.NewLogger(t),
		fixture.WithDriverFactory(d.Factory()),
	)
}

func TestValidate(t *testing.T) {
	scenarios := scenario.NewRegistry()
	tests := []struct {
		name    string
		req     RunRequest
		wantErr bool
	}{
		{"valid", RunRequest{Scenario: "search", Engine: "firefox"}, false},
		{"missing scenario", RunRequest{}, true},
		{"unknown scenario", RunRequest{Scenario: "checkout"}, true},
		{"unknown engine", RunRequest{Scenario: "search", Engine: "netscape"}, true},
		{"unknown driver", RunRequest{Scenario: "search", Driver: "selenium"}, true},
		{"negative timeout", RunRequest{Scenario: "search", Timeout: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req, scenarios)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionOptionsMergesRequest(t *testing.T) {
	p := newTestProcessor(t, browsertest.NewDriver())
	p.base.Channel = "chrome"
	p.base.CaptureTrace = true
	off := false

	run := NewRun(RunRequest{
		Scenario:     "search",
		Engine:       "firefox",
		Driver:       "rod",
		CaptureTrace: &off,
		CaptureVideo: true,
		Timeout:      45,
	}, DefaultLimits())
	opts := p.SessionOptions(run)

	assert.Equal(t, "firefox", opts.Engine)
	assert.Empty(t, opts.Channel, "an engine override drops the base channel")
	assert.Equal(t, "rod", opts.Driver)
	assert.False(t, opts.CaptureTrace)
	assert.True(t, opts.CaptureVideo)
	assert.Equal(t, 45*time.Second, opts.Timeout)
	assert.Equal(t, "search_"+run.ID, opts.TestName)
	assert.Equal(t, "chrome", p.base.Channel)
}

func TestProcessRunsScenario(t *testing.T) {
	d := browsertest.NewDriver()
	d.Page.Console = []string{"page ready"}
	p := newTestProcessor(t, d)
	run := NewRun(RunRequest{Scenario: "search", Term: "gophers", TestName: "test_search"}, DefaultLimits())

	var progress []string
	result, err := p.Process(context.Background(), run, func(msg string) { progress = append(progress, msg) })
	require.NoError(t, err)

	assert.Equal(t, "test_search", result.TestName)
	assert.Equal(t, fixture.Local, result.Mode)
	assert.Equal(t, fixture.StatusPassed, result.Status)
	assert.Equal(t, []string{scenario.SearchURL}, d.Page.Visited())
	assert.Contains(t, progress, "page ready")
	assert.Equal(t, 1, d.Closed())
}

func TestProcessReturnsAcquireError(t *testing.T) {
	d := browsertest.NewDriver()
	d.LaunchErr = browsertest.ErrLaunch
	p := newTestProcessor(t, d)

	_, err := p.Process(context.Background(), NewRun(RunRequest{Scenario: "search"}, DefaultLimits()), func(string) {})
	assert.True(t, fixture.IsAcquireError(err))
	assert.ErrorIs(t, err, browsertest.ErrLaunch)
}

func TestProcessUnknownScenario(t *testing.T) {
	p := newTestProcessor(t, browsertest.NewDriver())

	_, err := p.Process(context.Background(), NewRun(RunRequest{Scenario: "checkout"}, DefaultLimits()), func(string) {})
	assert.ErrorContains(t, err, "unknown scenario")
}
