package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/config"
)

// Server is the HTTP API server with the websocket hub mounted on /ws.
type Server struct {
	cfg         config.AppConfig
	hub         *Hub
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	http        *http.Server
	debug       *http.Server
	logger      *zap.Logger
}

// NewServer builds the server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// For testing HTTP endpoints, use Router() with httptest.
func NewServer(cfg config.AppConfig, hub *Hub, loop GameLoop, tokens TokenIssuer, logger *zap.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		hub:         hub,
		rateLimiter: NewIPRateLimiter(RateLimitFromLimits(cfg.Limits)),
		logger:      logger,
	}

	s.router = NewRouter(RouterConfig{
		Loop:        loop,
		Tokens:      tokens,
		Hub:         hub,
		AdminKey:    cfg.Server.AdminKey,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Server.AllowedOrigins,
		Logger:      logger,
	})
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.DebugEnabled {
		s.debug = NewDebugServer(cfg.Server.DebugAddr, logger)
	}
	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins the HTTP server AND starts background workers.
// This is the ONLY method that starts goroutines or opens network listeners.
// It blocks until the server is shut down.
func (s *Server) Start() error {
	s.rateLimiter.StartCleanup()
	if s.debug != nil {
		StartDebugServer(s.debug, s.logger)
	}

	s.logger.Info("api server starting", zap.String("addr", s.http.Addr))
	if s.cfg.Server.AdminKey == "" {
		s.logger.Warn("ADMIN_KEY not set, token issuance and admin routes are disabled")
	}

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown closes every websocket, stops accepting requests and stops the
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()

	var errs []error
	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing websockets: %w", err))
		}
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.debug != nil {
		if err := s.debug.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("debug shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
