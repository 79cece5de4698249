package api

import (
	"net/http"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/identity"
	"github.com/ashureev/portal-agent/internal/store"
	"github.com/go-chi/chi/v5"
)

// AccountHandler serves the caller's own profile and client configuration.
type AccountHandler struct {
	*Handler
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(base *Handler) *AccountHandler {
	return &AccountHandler{Handler: base}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
	})
}

// GetMe returns the current user's profile and behavior summary.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var profiles []domain.UserProfile
	if err := h.store.FindByUser(r.Context(), store.UserProfiles, userID, store.Query{Limit: 1}, &profiles); err != nil {
		h.logger.Error("Failed to load user profile", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if len(profiles) == 0 {
		Error(w, http.StatusNotFound, "user not found")
		return
	}

	resp := map[string]any{
		"user_id":      userID,
		"full_name":    profiles[0].FullName,
		"display_name": profiles[0].DisplayName(),
		"language":     profiles[0].PreferredLanguage,
	}
	if h.actions != nil {
		behavior, err := h.actions.Behavior(r.Context(), userID)
		if err != nil {
			h.logger.Warn("Failed to load behavior profile", "error", err, "user_id", userID)
		} else if behavior != nil {
			resp["interaction_count"] = behavior.InteractionCount
			resp["last_seen_service"] = behavior.LastSeenService
		}
	}
	JSON(w, http.StatusOK, resp)
}

// GetConfig returns the server configuration for the frontend.
func (h *AccountHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"autonomous_mode":       h.cfg.LLM.Autonomous,
		"fallback_enabled":      h.cfg.LLM.Fallback,
		"notifications_enabled": h.cfg.Notify.Enabled,
	})
}
