// Package api is the HTTP surface of the server: the REST API for
// authentication and file management, the WebSocket session upgrade,
// share-code downloads, health probes, and the metrics endpoint.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/config"
)

// Server is the HTTP server hosting the REST API and the WebSocket
// endpoint. It supports graceful shutdown with a configurable timeout.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
	listener        net.Listener
	shutdownOnce    sync.Once
}

// NewServer creates a new HTTP server. The server is created in a
// stopped state; call Start to begin serving requests.
func NewServer(cfg config.ServerConfig, shutdownTimeout time.Duration, deps Deps) *Server {
	router := NewRouter(deps)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		server:          server,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start serves requests and blocks until the context is cancelled or
// the listener fails. Cancellation triggers graceful shutdown bounded
// by the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", listener.Addr().String())

		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("HTTP server shutdown signal received")
		// Don't reuse the cancelled ctx: it would abort the drain
		// immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("HTTP server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			logger.Error("HTTP server shutdown error", "error", err)
		} else {
			logger.Info("HTTP server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr returns the listener's address once Start has bound it. Useful
// when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}
