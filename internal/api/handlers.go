package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/libevm/shlop-app-sub002/internal/game"
)

// Handler methods for routerHandlers

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statsResponse struct {
	game.Stats
	Connections int `json:"connections"`
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	var stats game.Stats
	if err := h.loop.Do(r.Context(), func(d *game.Dispatcher) { stats = d.Stats() }); err != nil {
		h.loopError(w, err)
		return
	}
	resp := statsResponse{Stats: stats}
	if h.hub != nil {
		resp.Connections = h.hub.ClientCount()
	}
	writeJSON(w, resp)
}

func (h *routerHandlers) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	token, expiresAt := h.tokens.Issue(req.Name)
	h.logger.Info("login token issued", zap.String("session", req.Name), zap.Time("expires_at", expiresAt))
	writeJSON(w, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *routerHandlers) handleWarp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		MapID string `json:"map_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.MapID == "" {
		writeError(w, "name and map_id are required", http.StatusBadRequest)
		return
	}

	err := h.loop.DoEnvelopes(r.Context(), func(d *game.Dispatcher) ([]game.Envelope, error) {
		return d.Warp(req.Name, req.MapID)
	})
	var denial *game.Denial
	switch {
	case err == nil:
		h.logger.Info("admin warp", zap.String("session", req.Name), zap.String("map", req.MapID))
		writeJSON(w, map[string]bool{"success": true})
	case errors.Is(err, game.ErrSessionNotFound):
		writeError(w, "session not found", http.StatusNotFound)
	case errors.As(err, &denial):
		writeError(w, denial.Reason, http.StatusConflict)
	default:
		h.loopError(w, err)
	}
}

func (h *routerHandlers) loopError(w http.ResponseWriter, err error) {
	if errors.Is(err, game.ErrLoopStopped) {
		writeError(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.logger.Warn("loop request failed", zap.Error(err))
	writeError(w, "request cancelled", http.StatusServiceUnavailable)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
