package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// Version is the current version of the fixture service
	Version = "1.0.0"
	// AppName is the application name
	AppName = "Session Fixture"
)

// Config holds all configuration options for the run server
type Config struct {
	// Server
	Host    string
	Port    int
	BaseURL string // Full base URL for API responses (e.g., http://localhost:8000)

	// Sessions
	Driver       string
	ArtifactsDir string
	SessionFile  string // optional YAML overlay for session defaults
	InstallFirst bool

	// Queue (NATS JetStream)
	NatsURL      string
	NatsStore    string
	NatsBin      string
	NatsDownload bool // download nats-server when the binary is missing
	Workers      int

	// Security
	RateLimitRequests int           // requests per window
	RateLimitWindow   time.Duration // time window for rate limiting
	IdempotencyTTL    time.Duration // TTL for idempotency keys
	ResultTTL         time.Duration // TTL for run results
	MaxRunTimeout     time.Duration // Maximum allowed run timeout
	MaxRetries        int           // Maximum retries per run

	// Logging
	LogLevel  string
	LogFormat string

	// Flags
	ShowVersion bool
	ShowHelp    bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              8000,
		Driver:            DefaultDriver,
		NatsURL:           "nats://127.0.0.1:4222",
		NatsStore:         "./data/nats",
		NatsBin:           "nats-server",
		Workers:           1,
		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
		IdempotencyTTL:    24 * time.Hour,
		ResultTTL:         7 * 24 * time.Hour,
		MaxRunTimeout:     15 * time.Minute,
		MaxRetries:        3,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// ParseFlags parses command line arguments (without the program name)
func ParseFlags(args []string) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind the server")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port number for the server")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL for API responses")

	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Browser driver: playwright or rod")
	fs.StringVar(&cfg.ArtifactsDir, "artifacts-dir", cfg.ArtifactsDir, "Root directory for traces, screenshots and videos")
	fs.StringVar(&cfg.SessionFile, "session-file", cfg.SessionFile, "YAML file with session defaults")
	fs.BoolVar(&cfg.InstallFirst, "install", cfg.InstallFirst, "Install browsers before serving")

	fs.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "NATS server URL")
	fs.StringVar(&cfg.NatsStore, "nats-store", cfg.NatsStore, "JetStream storage directory for a locally started server")
	fs.StringVar(&cfg.NatsBin, "nats-bin", cfg.NatsBin, "nats-server binary started when the URL is unreachable")
	fs.BoolVar(&cfg.NatsDownload, "nats-download", cfg.NatsDownload, "Download nats-server if the binary is missing")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent browser sessions")

	fs.IntVar(&cfg.RateLimitRequests, "rate-limit", cfg.RateLimitRequests, "Rate limit requests per window")
	fs.DurationVar(&cfg.RateLimitWindow, "rate-window", cfg.RateLimitWindow, "Rate limit window")
	fs.DurationVar(&cfg.MaxRunTimeout, "max-run-timeout", cfg.MaxRunTimeout, "Maximum allowed run timeout")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum retries per run (0-10)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or console")

	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", cfg.ShowHelp, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Auto-generate BaseURL if not provided
	if cfg.BaseURL == "" {
		host := cfg.Host
		if host == "0.0.0.0" {
			host = "localhost"
		}
		cfg.BaseURL = fmt.Sprintf("http://%s:%d", host, cfg.Port)
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries > 10 {
		cfg.MaxRetries = 10
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RateLimitRequests < 1 {
		cfg.RateLimitRequests = 60
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.Driver != "playwright" && cfg.Driver != "rod" {
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	return cfg, nil
}

// PrintVersion prints version information
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "%s v%s\n", AppName, Version)
}

// PrintHelp prints help information
func PrintHelp(w io.Writer) {
	fmt.Fprintf(w, `%s v%s (Browser sessions + Queue)

Usage:
  ./server [flags]

Server:
  --host, --port, --base-url

Sessions:
  --driver          playwright | rod (default %s)
  --artifacts-dir   root for traces/, screenshots/, videos/
  --session-file    YAML session defaults
  --install         install browsers before serving

Queue (NATS JetStream):
  --nats-url, --nats-store, --nats-bin, --nats-download
  --workers         concurrent browser sessions

Security:
  --rate-limit, --rate-window, --max-run-timeout, --max-retries

Logging:
  --log-level, --log-format

Other:
  --version         show version
  --help            show this help

`, AppName, Version, DefaultDriver)
}

// HandleFlags handles version and help flags, exits if needed
func HandleFlags(cfg *Config) {
	if cfg.ShowVersion {
		PrintVersion(os.Stdout)
		os.Exit(0)
	}

	if cfg.ShowHelp {
		PrintHelp(os.Stdout)
		os.Exit(0)
	}
}
