// Command runner runs a scenario in fixture sessions from the command line,
// once or across the browser matrix.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrdadan/sessionfixture/internal/browser"
	"github.com/ahrdadan/sessionfixture/internal/config"
	"github.com/ahrdadan/sessionfixture/internal/fixture"
	"github.com/ahrdadan/sessionfixture/internal/logging"
	"github.com/ahrdadan/sessionfixture/internal/matrix"
	"github.com/ahrdadan/sessionfixture/internal/scenario"
)

func main() {
	cfg, err := config.ParseRunnerFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "runner: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	failed, err := run(ctx, cfg, log)
	stop()
	_ = log.Sync()

	if err != nil {
		log.Error("runner failed", zap.Error(err))
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// run executes every selected entry and returns how many sessions failed.
func run(ctx context.Context, cfg *config.RunnerConfig, log *zap.Logger) (int, error) {
	env := config.LoadEnvironment()

	action, err := scenario.NewRegistry().Build(cfg.Scenario, cfg.Term)
	if err != nil {
		return 0, err
	}

	entries := []matrix.Entry{{Engine: browser.Engine(cfg.Engine), Channel: cfg.Channel}}
	if cfg.Matrix {
		entries = matrix.Entries(env.UseRemote(), runtime.GOOS)
	}

	if cfg.InstallFirst {
		engines := make([]browser.Engine, 0, len(entries))
		for _, e := range entries {
			engines = append(engines, e.Engine)
		}
		if err := browser.Install(ctx, cfg.Driver, engines...); err != nil {
			return 0, fmt.Errorf("failed to install browsers: %w", err)
		}
	}

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallel)

	for _, entry := range entries {
		opts, err := sessionOptions(env, cfg, entry)
		if err != nil {
			return 0, err
		}
		entryLog := log.With(zap.String("browser", entry.String()))
		testName := cfg.Scenario + "_" + entry.String()

		g.Go(func() error {
			fx, err := fixture.New(opts, fixture.LogOutput(entryLog), fixture.WithLogger(log))
			if err != nil {
				return err
			}
			result, err := fx.Run(gctx, testName, action)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				entryLog.Error("session failed", zap.Error(err))
			}
			if result != nil {
				entryLog.Info("session finished",
					zap.String("status", result.Status),
					zap.String("mode", result.Mode.String()),
					zap.Any("artifacts", result.Artifacts),
				)
			}
			// A failed session never cancels its siblings.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return failed, err
	}
	log.Info("runner finished", zap.Int("sessions", len(entries)), zap.Int("failed", failed))
	return failed, nil
}

func sessionOptions(env config.Environment, cfg *config.RunnerConfig, entry matrix.Entry) (config.SessionOptions, error) {
	opts := env.SessionOptions(string(entry.Engine), entry.Channel)
	if cfg.SessionFile != "" {
		var err error
		if opts, err = config.LoadSessionFile(cfg.SessionFile, opts); err != nil {
			return opts, err
		}
	}
	opts.Driver = cfg.Driver
	if cfg.ArtifactsDir != "" {
		opts.ArtifactsDir = cfg.ArtifactsDir
	}
	if cfg.CaptureTrace {
		opts.CaptureTrace = true
	}
	opts.Timeout = cfg.Timeout
	return opts, nil
}
