package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"bournemouth-hq/relay/pkg/auth"
	"bournemouth-hq/relay/pkg/config"
	"bournemouth-hq/relay/pkg/relay"
	"bournemouth-hq/relay/pkg/service"
	"bournemouth-hq/relay/pkg/store"
	"bournemouth-hq/relay/pkg/telemetry/metrics"
)

// Server is the relay HTTP server.
type Server struct {
	config       *config.Config
	service      *service.Service
	store        *store.Store
	sessions     *auth.SessionManager
	metrics      *metrics.Metrics
	logger       *slog.Logger
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New assembles the server from its collaborators. metrics may be nil
// when exposition is disabled.
func New(cfg *config.Config, svc *service.Service, st *store.Store, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sessions, err := auth.NewSessionManager([]byte(cfg.Auth.SessionSecret), cfg.Auth.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	return &Server{
		config:   cfg,
		service:  svc,
		store:    st,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}, nil
}

// Start runs the server until the context is cancelled or a SIGINT or
// SIGTERM arrives, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting relay server", "address", s.config.Server.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown stops accepting requests, drains the client pool, and
// closes the store. Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown",
			"timeout", s.config.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if err := s.service.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during pool shutdown", "error", err)
			if shutdownErr == nil {
				shutdownErr = fmt.Errorf("pool shutdown error: %w", err)
			}
		}

		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing store", "error", err)
			if shutdownErr == nil {
				shutdownErr = fmt.Errorf("store close error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("relay server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether Start has been called and not yet shut
// down.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler builds the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	sessionMW := auth.NewMiddleware(s.sessions, s.logger)
	login := auth.NewLoginHandler(s.sessions, s.store, s.config.Auth.SecureCookies, s.logger)
	chat := NewChatHandler(s.service, s.store, s.logger)
	statefulChat := NewStatefulChatHandler(chat, s.store, s.logger)
	token := NewTokenHandler(s.store, s.logger)

	var relayMetrics *metrics.RelayMetrics
	if s.metrics != nil {
		relayMetrics = s.metrics.Relay
	}
	ws := relay.NewHandler(
		s.service,
		s.store,
		sessionMW.Identity,
		relay.Config{CloseOnUpstreamError: s.config.Relay.CloseOnUpstreamError},
		relayMetrics,
		s.logger,
	)

	mux.Handle("/login", login)
	mux.Handle("/health", HealthHandler{})
	mux.Handle("/chat", sessionMW.Handle(chat))
	mux.Handle("/chat/state", sessionMW.Handle(statefulChat))
	mux.Handle("/auth/openrouter-token", sessionMW.Handle(token))
	mux.Handle("/ws/chat", ws)

	metricsEnabled := s.config.Telemetry.Metrics.Enabled == nil || *s.config.Telemetry.Metrics.Enabled
	if s.metrics != nil && metricsEnabled {
		mux.Handle(s.config.Telemetry.Metrics.Path, s.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}
