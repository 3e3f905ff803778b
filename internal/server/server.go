// Package server owns the HTTP listener and its lifecycle.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/conneroisu/switchyard/internal/config"
	"github.com/conneroisu/switchyard/internal/errors"
	"github.com/conneroisu/switchyard/internal/logging"
)

const defaultShutdownTimeout = 30 * time.Second

// Server serves one handler on the configured address.
type Server struct {
	cfg     config.ServerConfig
	addr    string
	handler http.Handler
	logger  logging.Logger

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	isShutdown bool
}

// New creates a server for handler. It panics on a nil config or handler.
func New(cfg *config.Config, handler http.Handler, logger logging.Logger) *Server {
	if cfg == nil {
		panic("server: config cannot be nil")
	}
	if handler == nil {
		panic("server: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		cfg:     cfg.Server,
		addr:    cfg.Addr(),
		handler: handler,
		logger:  logger.WithComponent("server"),
	}
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// Listen binds the listener. Start calls it when needed; calling it first
// makes Addr report the bound port when the configured port is 0.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isShutdown {
		return errors.NewTransportError(errors.CodeConfigInvalid, "server has been shut down", nil)
	}
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.NewTransportError(errors.CodeConfigInvalid, "cannot listen on "+s.addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln
	return nil
}

// Start serves until ctx is cancelled or the server fails. Cancellation
// shuts the server down gracefully and returns nil.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.RLock()
	srv, ln := s.httpServer, s.listener
	s.mu.RUnlock()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("serve: %w", err)
		}
		close(errChan)
	}()

	s.logger.Info(ctx, "listening",
		"addr", ln.Addr().String(),
		"max_connections", s.cfg.MaxConnections)

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
// It is idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isShutdown {
		return nil
	}
	s.isShutdown = true

	s.logger.Info(ctx, "shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if s.listener != nil {
		s.listener.Close()
	}
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// IsShutdown reports whether Shutdown has been called.
func (s *Server) IsShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isShutdown
}
