// Package api provides the HTTP handlers of the portal agent API that sit
// outside the chat stream: health, account and proactive endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/config"
	"github.com/ashureev/portal-agent/internal/llm"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/store"
)

const healthTimeout = 5 * time.Second

// Handler provides common handler utilities.
type Handler struct {
	store     store.Store
	model     llm.Client
	proactive *proactive.Service
	actions   *actionlog.Logger
	cfg       *config.Config
	logger    *slog.Logger
}

// NewHandler creates a new Handler with common dependencies. model may be
// nil when the server runs without a language model.
func NewHandler(s store.Store, model llm.Client, svc *proactive.Service, actions *actionlog.Logger, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		store:     s,
		model:     model,
		proactive: svc,
		actions:   actions,
		cfg:       cfg,
		logger:    logger,
	}
}

// Health reports store and model reachability. An unreachable model only
// degrades the service because the fallback path still answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check: store unreachable", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": "unreachable"})
		return
	}

	status := map[string]string{"status": "ok", "store": "ok", "model": "disabled"}
	if h.model != nil {
		status["model"] = "ok"
		if err := h.model.Ping(ctx); err != nil {
			h.logger.Warn("Health check: model unreachable", "error", err)
			status["status"] = "degraded"
			status["model"] = "unreachable"
		}
	}
	JSON(w, http.StatusOK, status)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
