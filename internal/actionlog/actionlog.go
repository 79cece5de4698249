// Package actionlog records the agent's audit trail and the per-user
// behavior summary that personalization reads back.
package actionlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

// Action types written by the executor itself.
const (
	ActionAgentTurn    = "agent_turn"
	ActionFallbackTurn = "fallback_turn"
	ActionFeedback     = "agent_feedback"
	ActionEventAcked   = "proactive_event_acked"
)

// BehaviorUpdate carries the fields refreshed after a turn. Empty strings
// and a nil Prediction leave the stored values untouched.
type BehaviorUpdate struct {
	LastMessage   string
	Intent        string
	PredictedNeed string
	Prediction    *domain.Prediction
}

// Logger appends action log entries and maintains user_behavior rows.
type Logger struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Logger.
func New(s store.Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: s, logger: logger}
}

// Log appends one entry to agent_actions_log. Entries are never updated.
func (l *Logger) Log(ctx context.Context, userID, actionType string, input, output any) error {
	entry := &domain.ActionLogEntry{
		UserID:     userID,
		ActionType: actionType,
		Input:      input,
		Output:     output,
	}
	if err := l.store.Insert(ctx, store.AgentActionsLog, entry); err != nil {
		return fmt.Errorf("log action %s: %w", actionType, err)
	}
	return nil
}

// Behavior returns the user's behavior profile, or nil when none exists yet.
func (l *Logger) Behavior(ctx context.Context, userID string) (*domain.UserBehaviorProfile, error) {
	var b domain.UserBehaviorProfile
	err := l.store.FindByID(ctx, store.UserBehavior, userID, &b)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load behavior: %w", err)
	}
	return &b, nil
}

// UpdateBehavior upserts the behavior profile after a turn and bumps
// interaction_count by one.
func (l *Logger) UpdateBehavior(ctx context.Context, userID string, u BehaviorUpdate) error {
	current, err := l.Behavior(ctx, userID)
	if err != nil {
		return err
	}
	count := 0
	if current != nil {
		count = current.InteractionCount
	}

	patch := map[string]any{"interaction_count": count + 1}
	if u.LastMessage != "" {
		patch["last_message"] = u.LastMessage
	}
	if u.Intent != "" {
		patch["intent"] = u.Intent
	}
	if u.PredictedNeed != "" {
		patch["predicted_need"] = u.PredictedNeed
	}
	if u.Prediction != nil {
		patch["needs_prediction"] = u.Prediction
		if u.PredictedNeed == "" {
			patch["predicted_need"] = u.Prediction.PredictedNeed
		}
	}

	if err := l.store.Upsert(ctx, store.UserBehavior, userID, userID, patch); err != nil {
		return fmt.Errorf("update behavior: %w", err)
	}
	return nil
}

// TouchService records the last service area the user interacted with.
func (l *Logger) TouchService(ctx context.Context, userID, service string) error {
	if err := l.store.Upsert(ctx, store.UserBehavior, userID, userID, map[string]any{
		"last_seen_service": service,
	}); err != nil {
		return fmt.Errorf("touch service %s: %w", service, err)
	}
	return nil
}

// SavePrediction overwrites needs_prediction and predicted_need.
func (l *Logger) SavePrediction(ctx context.Context, p *domain.Prediction) error {
	if err := l.store.Upsert(ctx, store.UserBehavior, p.UserID, p.UserID, map[string]any{
		"needs_prediction": p,
		"predicted_need":   p.PredictedNeed,
	}); err != nil {
		return fmt.Errorf("save prediction: %w", err)
	}
	return nil
}

// RecordComplaint increments consecutive_complaints_count.
func (l *Logger) RecordComplaint(ctx context.Context, userID string) error {
	return l.setComplaints(ctx, userID, func(n int) int { return n + 1 })
}

// RecordFeedback stores feedback and adjusts the complaint streak: unhelpful
// replies extend it, helpful ones reset it.
func (l *Logger) RecordFeedback(ctx context.Context, fb *domain.AgentFeedback) error {
	if err := l.store.Insert(ctx, store.AgentFeedback, fb); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}

	var err error
	if fb.Helpful {
		err = l.setComplaints(ctx, fb.UserID, func(int) int { return 0 })
	} else {
		err = l.setComplaints(ctx, fb.UserID, func(n int) int { return n + 1 })
	}
	if err != nil {
		return err
	}

	if err := l.Log(ctx, fb.UserID, ActionFeedback, map[string]any{
		"helpful": fb.Helpful,
		"rating":  fb.Rating,
	}, map[string]any{"feedback_id": fb.ID}); err != nil {
		l.logger.Warn("Failed to log feedback action", "user_id", fb.UserID, "error", err)
	}
	return nil
}

func (l *Logger) setComplaints(ctx context.Context, userID string, next func(int) int) error {
	current, err := l.Behavior(ctx, userID)
	if err != nil {
		return err
	}
	n := 0
	if current != nil {
		n = current.ConsecutiveComplaintsCount
	}
	if err := l.store.Upsert(ctx, store.UserBehavior, userID, userID, map[string]any{
		"consecutive_complaints_count": next(n),
	}); err != nil {
		return fmt.Errorf("update complaints: %w", err)
	}
	return nil
}
