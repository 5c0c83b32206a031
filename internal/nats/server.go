// Package nats connects to a NATS server with JetStream, starting a local
// nats-server when none is reachable.
package nats

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ahrdadan/sessionfixture/internal/logging"
)

// Server manages the NATS connection and, when needed, a local server.
type Server struct {
	cfg    ServerConfig
	logger *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	nc        *nats.Conn
	js        jetstream.JetStream
	isRunning bool
}

// ServerConfig holds configuration for the NATS server
type ServerConfig struct {
	URL      string
	BinPath  string
	StoreDir string
	Download bool
	// ReadyTimeout bounds the wait for a started server to accept
	// connections.
	ReadyTimeout time.Duration
}

// NewServer creates a new NATS server manager
func NewServer(cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	return &Server{
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("nats"),
	}
}

// Start connects to the configured URL, spawning nats-server with
// JetStream first if nothing listens there.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	hostPort, err := parseNatsURL(s.cfg.URL)
	if err != nil {
		return err
	}

	if reachable(hostPort) {
		s.logger.Info("using running NATS server", zap.String("url", s.cfg.URL))
	} else if err := s.spawn(ctx, hostPort); err != nil {
		return err
	}

	if err := s.connect(); err != nil {
		s.kill()
		return err
	}
	s.isRunning = true
	return nil
}

func (s *Server) spawn(ctx context.Context, hostPort string) error {
	bin, err := EnsureBinary(ctx, s.cfg.BinPath, s.cfg.Download, s.logger)
	if err != nil {
		return err
	}

	storeDir, err := filepath.Abs(s.cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("failed to resolve store dir: %w", err)
	}
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return err
	}

	// The server outlives ctx; Stop ends it.
	s.cmd = exec.Command(bin, "-js", "-sd", storeDir, "-a", host, "-p", port)
	s.cmd.Stdout = os.Stdout
	s.cmd.Stderr = os.Stderr
	if err := s.cmd.Start(); err != nil {
		s.cmd = nil
		return fmt.Errorf("failed to start nats-server: %w", err)
	}

	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	for !reachable(hostPort) {
		if time.Now().After(deadline) {
			s.kill()
			return fmt.Errorf("nats-server did not start listening on %s", hostPort)
		}
		select {
		case <-ctx.Done():
			s.kill()
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	s.logger.Info("started nats-server with JetStream",
		zap.String("url", s.cfg.URL),
		zap.String("store", storeDir),
	)
	return nil
}

// Stop closes the connection and ends a server this process started.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
		s.nc = nil
	}
	s.kill()
	s.js = nil
	s.isRunning = false
	s.logger.Info("NATS stopped")
	return nil
}

func (s *Server) kill() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Kill(); err != nil {
		s.logger.Warn("failed to kill nats-server", zap.Error(err))
	}
	_ = s.cmd.Wait()
	s.cmd = nil
}

// IsRunning returns true if the connection is up
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// JetStream returns the JetStream context
func (s *Server) JetStream() jetstream.JetStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.js
}

func (s *Server) connect() error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("session-fixture"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s.nc = nc
	s.js = js
	return nil
}

func reachable(hostPort string) bool {
	conn, err := net.DialTimeout("tcp", hostPort, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// parseNatsURL returns host:port of a nats:// URL.
func parseNatsURL(natsURL string) (string, error) {
	u, err := url.Parse(natsURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid NATS URL: %s", natsURL)
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "4222"), nil
	}
	return u.Host, nil
}
