package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/identity"
	"github.com/ashureev/portal-agent/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxAckBody = 4 << 10

// refreshLocks prevents concurrent refreshes for the same user.
var refreshLocks sync.Map

// ProactiveHandler exposes pending events and the cached proactive context.
type ProactiveHandler struct {
	*Handler
}

// NewProactiveHandler creates a ProactiveHandler.
func NewProactiveHandler(base *Handler) *ProactiveHandler {
	return &ProactiveHandler{Handler: base}
}

// RegisterRoutes registers proactive routes.
func (h *ProactiveHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/proactive", func(r chi.Router) {
		r.Get("/context", h.GetContext)
		r.Post("/refresh", h.Refresh)
		r.Get("/events", h.ListEvents)
		r.Post("/events/{id}/ack", h.Acknowledge)
	})
}

type contextResponse struct {
	Events      []domain.ProactiveEvent `json:"events"`
	Predictions []domain.Prediction     `json:"predictions"`
}

func newContextResponse(events []domain.ProactiveEvent, predictions []domain.Prediction) contextResponse {
	if events == nil {
		events = []domain.ProactiveEvent{}
	}
	if predictions == nil {
		predictions = []domain.Prediction{}
	}
	return contextResponse{Events: events, Predictions: predictions}
}

// GetContext returns the user's proactive context, computing it on a miss.
func (h *ProactiveHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	entry := h.proactive.Context(r.Context(), userID)
	JSON(w, http.StatusOK, newContextResponse(entry.Events, entry.Predictions))
}

// Refresh recomputes the user's proactive context.
func (h *ProactiveHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	lock, _ := refreshLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		h.logger.Warn("Refresh already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "refresh_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		refreshLocks.Delete(userID)
	}()

	entry := h.proactive.Refresh(r.Context(), userID)
	JSON(w, http.StatusOK, newContextResponse(entry.Events, entry.Predictions))
}

// ListEvents returns the user's unhandled events.
func (h *ProactiveHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	events, err := h.proactive.Pending(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list pending events", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.ProactiveEvent{}
	}
	JSON(w, http.StatusOK, map[string]any{"events": events})
}

type ackRequest struct {
	Action string `json:"action"`
}

// Acknowledge marks one of the user's events as handled. The body is
// optional.
func (h *ProactiveHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	eventID := chi.URLParam(r, "id")

	var req ackRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAckBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.proactive.Acknowledge(r.Context(), userID, eventID, req.Action); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("Failed to acknowledge event", "error", err, "user_id", userID, "event_id", eventID)
		Error(w, http.StatusInternalServerError, "failed to acknowledge event")
		return
	}

	if h.actions != nil {
		input := map[string]any{"event_id": eventID, "action": req.Action}
		if err := h.actions.Log(r.Context(), userID, actionlog.ActionEventAcked, input, nil); err != nil {
			h.logger.Warn("Failed to log acknowledgement", "error", err, "user_id", userID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
