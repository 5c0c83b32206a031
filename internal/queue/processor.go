package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/browser"
	"github.com/ahrdadan/sessionfixture/internal/config"
	"github.com/ahrdadan/sessionfixture/internal/fixture"
	"github.com/ahrdadan/sessionfixture/internal/logging"
	"github.com/ahrdadan/sessionfixture/internal/scenario"
)

// FixtureProcessor runs a registered scenario in a fixture session.
type FixtureProcessor struct {
	base      config.SessionOptions
	scenarios *scenario.Registry
	options   []fixture.Option
	logger    *zap.Logger
}

// NewFixtureProcessor creates a processor. Request fields override base.
func NewFixtureProcessor(base config.SessionOptions, scenarios *scenario.Registry, logger *zap.Logger, options ...fixture.Option) *FixtureProcessor {
	return &FixtureProcessor{
		base:      base,
		scenarios: scenarios,
		options:   options,
		logger:    logging.OrNop(logger),
	}
}

// Validate rejects requests that can never run.
func Validate(req RunRequest, scenarios *scenario.Registry) error {
	if req.Scenario == "" {
		return fmt.Errorf("scenario is required")
	}
	if !scenarios.Has(req.Scenario) {
		return fmt.Errorf("unknown scenario: %q", req.Scenario)
	}
	if req.Engine != "" {
		if _, err := browser.ParseEngine(req.Engine); err != nil {
			return err
		}
	}
	switch req.Driver {
	case "", browser.DriverPlaywright, browser.DriverRod:
	default:
		return fmt.Errorf("unknown browser driver: %q", req.Driver)
	}
	if req.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// SessionOptions merges the request into the base options.
func (p *FixtureProcessor) SessionOptions(run *Run) config.SessionOptions {
	req := run.Request
	opts := p.base
	if req.Engine != "" {
		opts.Engine = req.Engine
		opts.Channel = ""
	}
	if req.Channel != "" {
		opts.Channel = req.Channel
	}
	if req.Driver != "" {
		opts.Driver = req.Driver
	}
	if req.CaptureTrace != nil {
		opts.CaptureTrace = *req.CaptureTrace
	}
	opts.CaptureVideo = opts.CaptureVideo || req.CaptureVideo
	opts.Timeout = run.TimeoutDuration()

	opts.TestName = req.TestName
	if opts.TestName == "" {
		opts.TestName = req.Scenario + "_" + run.ID
	}
	return opts
}

// Process runs the scenario and forwards session output as progress.
func (p *FixtureProcessor) Process(ctx context.Context, run *Run, progress func(string)) (*fixture.Result, error) {
	action, err := p.scenarios.Build(run.Request.Scenario, run.Request.Term)
	if err != nil {
		return nil, err
	}

	opts := p.SessionOptions(run)
	out := fixture.OutputFunc(func(format string, args ...any) {
		progress(fmt.Sprintf(format, args...))
	})
	options := append([]fixture.Option{
		fixture.WithLogger(p.logger.With(zap.String("run_id", run.ID))),
	}, p.options...)

	fx, err := fixture.New(opts, out, options...)
	if err != nil {
		return nil, err
	}
	return fx.Run(ctx, opts.TestName, action)
}
