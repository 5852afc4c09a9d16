// Package server assembles the process: database store, storage root,
// session engine, upload coordinator, and the HTTP surface, wired from
// one configuration value.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flowdrop/flowdrop/internal/logger"
	"github.com/flowdrop/flowdrop/pkg/api"
	"github.com/flowdrop/flowdrop/pkg/api/auth"
	"github.com/flowdrop/flowdrop/pkg/config"
	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/metrics"
	"github.com/flowdrop/flowdrop/pkg/session"
	"github.com/flowdrop/flowdrop/pkg/store"
	"github.com/flowdrop/flowdrop/pkg/upload"
)

// Server owns every long-lived component of a flowdrop process.
type Server struct {
	cfg *config.Config

	store       *store.Store
	root        *files.Root
	registry    *session.Registry
	dispatcher  *session.Dispatcher
	coordinator *upload.Coordinator

	httpServer    *api.Server
	metricsServer *http.Server
}

// New wires all components from the configuration. The returned server
// is not listening yet; call Serve.
func New(cfg *config.Config) (*Server, error) {
	s, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	root, err := files.NewRoot(cfg.Storage.Root)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenTTL,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	registry := session.NewRegistry()
	dispatcher := session.NewDispatcher(registry)
	coordinator := upload.NewCoordinator(upload.Config{
		Workers:       cfg.Upload.Workers,
		NudgeInterval: cfg.Upload.NudgeInterval,
	}, root, nil, dispatcher)

	srv := &Server{
		cfg:         cfg,
		store:       s,
		root:        root,
		registry:    registry,
		dispatcher:  dispatcher,
		coordinator: coordinator,
	}

	srv.httpServer = api.NewServer(cfg.Server, cfg.ShutdownTimeout, api.Deps{
		Store:       s,
		JWTService:  jwtService,
		Root:        root,
		Coordinator: coordinator,
		Session: session.Deps{
			Registry:    registry,
			Dispatcher:  dispatcher,
			Coordinator: coordinator,
			Users:       NewUserStore(s),
			Root:        root,
			MailboxSize: cfg.Upload.MailboxSize,
		},
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	return srv, nil
}

// Bootstrap ensures the master account from the admin configuration
// exists. Safe to call on every startup.
func (s *Server) Bootstrap(ctx context.Context) error {
	if s.cfg.Admin.Username == "" || s.cfg.Admin.PasswordHash == "" {
		logger.Debug("no admin account configured, skipping bootstrap")
		return nil
	}

	created, err := s.store.EnsureMaster(ctx, s.cfg.Admin.Username, s.cfg.Admin.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to ensure master account: %w", err)
	}
	if created {
		logger.Info("Master account created", "username", s.cfg.Admin.Username)
	}
	return nil
}

// Serve runs the HTTP surface (and the standalone metrics listener when
// configured) until the context is cancelled, then shuts everything
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Port != 0 && s.cfg.Metrics.Port != s.cfg.Server.Port {
		s.startMetricsServer(ctx)
	}

	err := s.httpServer.Start(ctx)

	if closeErr := s.store.Close(); closeErr != nil {
		logger.Error("store close error", "error", closeErr)
	}
	return err
}

// Store exposes the database store, mainly for command-line tooling
// sharing a server's wiring.
func (s *Server) Store() *store.Store {
	return s.store
}

// Addr returns the HTTP listener address once Serve has bound it.
func (s *Server) Addr() string {
	return s.httpServer.Addr()
}

// startMetricsServer serves /metrics on its own port so operators can
// keep the scrape endpoint off the public listener.
func (s *Server) startMetricsServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Metrics.Port),
		Handler: mux,
	}

	go func() {
		logger.Info("Metrics server listening", "port", s.cfg.Metrics.Port)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}()
}
