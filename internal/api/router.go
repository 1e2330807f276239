package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// TokenIssuer hands out single-use login tokens.
type TokenIssuer interface {
	Issue(name string) (string, time.Time)
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Loop:     loop,
//	    Tokens:   tokens,
//	    AdminKey: "secret",
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Loop serializes every query against game state (required)
	Loop GameLoop

	// Tokens issues login tokens (required)
	Tokens TokenIssuer

	// Hub serves /ws. If nil the route is not mounted.
	Hub *Hub

	// AdminKey guards /api/tokens and /api/admin. If empty those routes
	// are not mounted.
	AdminKey string

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is used only if RateLimiter is nil.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins.
	CORSOrigins []string

	Logger *zap.Logger
}

// routerHandlers holds the dependencies of the route handlers.
type routerHandlers struct {
	loop   GameLoop
	tokens TokenIssuer
	hub    *Hub
	logger *zap.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started
//   - No network listeners are opened
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", AdminKeyHeader},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		loop:   cfg.Loop,
		tokens: cfg.Tokens,
		hub:    cfg.Hub,
		logger: logger,
	}

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.handleGetStats)

		if cfg.AdminKey == "" {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(RequireAdminKey(cfg.AdminKey))
			r.Post("/tokens", h.handleIssueToken)
			r.Post("/admin/warp", h.handleWarp)
		})
	})

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.HandleWebSocket)
	}

	return r
}
