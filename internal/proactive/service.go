package proactive

import (
	"context"
	"log/slog"

	"github.com/ashureev/portal-agent/internal/domain"
)

// Service resolves a user's proactive context, computing it on a cache miss.
type Service struct {
	cache     *Cache
	triggers  *TriggerEngine
	predictor *Predictor
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(cache *Cache, triggers *TriggerEngine, predictor *Predictor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, triggers: triggers, predictor: predictor, logger: logger}
}

// Context returns the cached entry, or computes and caches a fresh one.
// Concurrent misses for one user may both compute; the last Set wins.
func (s *Service) Context(ctx context.Context, userID string) Entry {
	if e, ok := s.cache.Get(userID); ok {
		return e
	}
	return s.Refresh(ctx, userID)
}

// Refresh recomputes the user's context and overwrites the cache entry.
func (s *Service) Refresh(ctx context.Context, userID string) Entry {
	events := s.triggers.Run(ctx, userID)

	// Earlier unhandled events of types not detected this run still count.
	fresh := make(map[string]bool, len(events))
	for _, ev := range events {
		fresh[ev.EventType] = true
	}
	pending, err := s.triggers.Pending(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load pending proactive events", "user_id", userID, "error", err)
	}
	for _, ev := range pending {
		if !fresh[ev.EventType] {
			events = append(events, ev)
		}
	}

	var predictions []domain.Prediction
	pred, err := s.predictor.PredictUserNeeds(ctx, userID)
	if err != nil {
		s.logger.Warn("Prediction failed", "user_id", userID, "error", err)
	} else {
		predictions = append(predictions, *pred)
	}

	s.cache.Set(userID, events, predictions)
	return Entry{UserID: userID, Events: events, Predictions: predictions}
}

// Pending lists the user's unhandled events.
func (s *Service) Pending(ctx context.Context, userID string) ([]domain.ProactiveEvent, error) {
	return s.triggers.Pending(ctx, userID)
}

// Acknowledge marks one event as handled.
func (s *Service) Acknowledge(ctx context.Context, userID, eventID, action string) error {
	if action == "" {
		action = "acknowledged"
	}
	return s.triggers.MarkActed(ctx, userID, eventID, action)
}
