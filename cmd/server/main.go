package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/api"
	"github.com/ahrdadan/sessionfixture/internal/browser"
	"github.com/ahrdadan/sessionfixture/internal/config"
	"github.com/ahrdadan/sessionfixture/internal/logging"
	"github.com/ahrdadan/sessionfixture/internal/nats"
	"github.com/ahrdadan/sessionfixture/internal/queue"
	"github.com/ahrdadan/sessionfixture/internal/scenario"
)

func main() {
	// Parse CLI flags
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		config.PrintHelp(os.Stderr)
		os.Exit(2)
	}

	// Handle --version and --help
	config.HandleFlags(cfg)

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting "+config.AppName,
		zap.String("version", config.Version),
		zap.String("driver", cfg.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := config.LoadEnvironment()
	base := env.SessionOptions("", "")
	if cfg.SessionFile != "" {
		var err error
		if base, err = config.LoadSessionFile(cfg.SessionFile, base); err != nil {
			return err
		}
	}
	base.Driver = cfg.Driver
	if cfg.ArtifactsDir != "" {
		base.ArtifactsDir = cfg.ArtifactsDir
	}

	if cfg.InstallFirst {
		log.Info("installing browsers", zap.String("driver", base.Driver))
		if err := browser.Install(ctx, base.Driver); err != nil {
			return fmt.Errorf("failed to install browsers: %w", err)
		}
	}

	// NATS + JetStream setup
	natsServer := nats.NewServer(nats.ServerConfig{
		URL:      cfg.NatsURL,
		BinPath:  cfg.NatsBin,
		StoreDir: cfg.NatsStore,
		Download: cfg.NatsDownload,
	}, log)
	if err := natsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start NATS: %w", err)
	}
	defer func() {
		if err := natsServer.Stop(); err != nil {
			log.Warn("failed to stop NATS", zap.Error(err))
		}
	}()

	manager, err := queue.NewManager(ctx, natsServer.JetStream(), queue.Options{
		Logger: log,
		Limits: queue.Limits{
			MaxTimeout: cfg.MaxRunTimeout,
			MaxRetries: cfg.MaxRetries,
			ResultTTL:  cfg.ResultTTL,
		},
		Notifier: queue.NewNotifier(cfg.BaseURL, log),
		Workers:  cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}

	scenarios := scenario.NewRegistry()
	if err := manager.Start(queue.NewFixtureProcessor(base, scenarios, log)); err != nil {
		return fmt.Errorf("failed to start queue processor: %w", err)
	}
	defer manager.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      config.AppName,
		ErrorHandler: api.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	routeConfig := api.DefaultRouteConfig()
	routeConfig.RateLimitRequests = cfg.RateLimitRequests
	routeConfig.RateLimitWindow = cfg.RateLimitWindow
	routeConfig.IdempotencyTTL = cfg.IdempotencyTTL
	routeConfig.BaseURL = cfg.BaseURL
	routeConfig.Driver = base.Driver
	routeConfig.UseRemote = base.Remote.Enabled && base.Remote.Credentials.Complete()
	stopRoutes := api.SetupRoutes(app, manager, scenarios, routeConfig, log)
	defer stopRoutes()

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.Shutdown(); err != nil {
			log.Warn("error during shutdown", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info("listening",
		zap.String("addr", addr),
		zap.String("nats", cfg.NatsURL),
		zap.Bool("remote", routeConfig.UseRemote),
	)
	return app.Listen(addr)
}
