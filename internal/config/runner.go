package config

import (
	"flag"
	"fmt"
	"io"
	"runtime"
	"time"
)

// RunnerConfig holds options for the command line runner
type RunnerConfig struct {
	Scenario     string
	Term         string
	Engine       string
	Channel      string
	Matrix       bool // run every entry of the browser matrix
	Parallel     int
	Driver       string
	ArtifactsDir string
	SessionFile  string
	CaptureTrace bool
	Timeout      time.Duration
	InstallFirst bool

	LogLevel  string
	LogFormat string
}

// ParseRunnerFlags parses runner arguments (without the program name)
func ParseRunnerFlags(args []string) (*RunnerConfig, error) {
	cfg := &RunnerConfig{
		Scenario:  "search",
		Term:      "playwright",
		Engine:    DefaultEngine,
		Parallel:  runtime.NumCPU(),
		Driver:    DefaultDriver,
		Timeout:   DefaultSessionDeadline,
		LogLevel:  "info",
		LogFormat: "console",
	}

	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "Scenario to run")
	fs.StringVar(&cfg.Term, "term", cfg.Term, "Search term for the search scenario")
	fs.StringVar(&cfg.Engine, "engine", cfg.Engine, "Browser engine: chromium, firefox, webkit")
	fs.StringVar(&cfg.Channel, "channel", cfg.Channel, "Browser channel, e.g. chrome or msedge")
	fs.BoolVar(&cfg.Matrix, "matrix", cfg.Matrix, "Run the scenario on every browser in the matrix")
	fs.IntVar(&cfg.Parallel, "parallel", cfg.Parallel, "Maximum concurrent sessions with -matrix")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Browser driver: playwright or rod")
	fs.StringVar(&cfg.ArtifactsDir, "artifacts-dir", cfg.ArtifactsDir, "Root directory for artifacts")
	fs.StringVar(&cfg.SessionFile, "session-file", cfg.SessionFile, "YAML file with session defaults")
	fs.BoolVar(&cfg.CaptureTrace, "trace", cfg.CaptureTrace, "Capture a trace for local sessions")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Deadline for each session")
	fs.BoolVar(&cfg.InstallFirst, "install", cfg.InstallFirst, "Install browsers before running")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if cfg.Driver != "playwright" && cfg.Driver != "rod" {
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
	return cfg, nil
}
