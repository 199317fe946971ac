package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/obexd/internal/logger"
)

// Config configures the HTTP server.
type Config struct {
	// Address is host:port to listen on.
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server serves the status router until its context ends.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once

	mu   sync.Mutex
	addr net.Addr
	// ready is closed once the listener is open.
	ready chan struct{}
}

// NewServer creates a stopped server.
func NewServer(cfg Config, deps Deps) *Server {
	cfg.applyDefaults()
	return &Server{
		server: &http.Server{
			Handler:      NewRouter(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		config: cfg,
		ready:  make(chan struct{}),
	}
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener cannot be opened or serving fails
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)
	logger.Info("Status server listening", logger.KeyAddress, ln.Addr().String())

	errc := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errc:
		return fmt.Errorf("status server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("status server shutdown: %w", err)
			logger.Error("Status server shutdown error", logger.Err(err))
			return
		}
		logger.Info("Status server stopped")
	})
	return shutdownErr
}

// Addr blocks until the listener is open and returns its address.
func (s *Server) Addr() string {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr.String()
}
