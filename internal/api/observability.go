package api

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/metrics"
)

const defaultDebugAddr = "127.0.0.1:6060"

// debugAddr forces the debug listener onto loopback unless
// ALLOW_DEBUG_EXTERNAL=true.
func debugAddr(addr string, logger *zap.Logger) string {
	if addr == "" {
		return defaultDebugAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil && (host == "127.0.0.1" || host == "localhost" || host == "::1") {
		return addr
	}
	if os.Getenv("ALLOW_DEBUG_EXTERNAL") == "true" {
		return addr
	}
	logger.Warn("debug server forced to localhost", zap.String("requested", addr))
	return defaultDebugAddr
}

// NewDebugMux serves pprof, Prometheus metrics and a health check.
func NewDebugMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// NewDebugServer builds the internal observability server. It listens on
// loopback only.
func NewDebugServer(addr string, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              debugAddr(addr, logger),
		Handler:           NewDebugMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartDebugServer serves srv in the background.
// CRITICAL: pprof must never be reachable from outside the host.
func StartDebugServer(srv *http.Server, logger *zap.Logger) {
	go func() {
		logger.Info("debug server starting",
			zap.String("addr", srv.Addr),
			zap.String("pprof", "http://"+srv.Addr+"/debug/pprof/"),
			zap.String("metrics", "http://"+srv.Addr+"/metrics"))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("debug server error", zap.Error(err))
		}
	}()
}

// requestLogger logs and measures each request. The endpoint label is the
// matched route pattern so metrics stay bounded.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			endpoint := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					endpoint = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.RecordRequest(r.Method, endpoint, status, elapsed)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("endpoint", endpoint),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
