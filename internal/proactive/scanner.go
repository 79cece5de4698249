package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/notify"
	"github.com/ashureev/portal-agent/internal/store"
	"github.com/robfig/cron/v3"
)

// Scanner runs the trigger engine for every user with an active contract
// on a cron schedule and notifies users about expiring contracts.
type Scanner struct {
	store    store.Store
	triggers *TriggerEngine
	notifier notify.Dispatcher
	logger   *slog.Logger
	c        *cron.Cron
}

// NewScanner creates a Scanner.
func NewScanner(s store.Store, triggers *TriggerEngine, notifier notify.Dispatcher, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:    s,
		triggers: triggers,
		notifier: notifier,
		logger:   logger,
		c:        cron.New(),
	}
}

// ScanResult summarizes one scan.
type ScanResult struct {
	Users         int
	Events        int
	Notifications int
}

// ScanAll runs every detector for each user owning an active contract.
func (s *Scanner) ScanAll(ctx context.Context) (ScanResult, error) {
	var contracts []domain.EmploymentContract
	if err := s.store.FindAll(ctx, store.EmploymentContracts, store.Query{
		Where: map[string]any{"status": domain.ContractActive},
	}, &contracts); err != nil {
		return ScanResult{}, fmt.Errorf("list active contracts: %w", err)
	}

	seen := make(map[string]bool)
	var users []string
	for _, c := range contracts {
		if c.UserID != "" && !seen[c.UserID] {
			seen[c.UserID] = true
			users = append(users, c.UserID)
		}
	}
	sort.Strings(users)

	var res ScanResult
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		events := s.triggers.Run(ctx, userID)
		res.Users++
		res.Events += len(events)

		for _, ev := range events {
			if ev.EventType != domain.EventContractExpiringSoon {
				continue
			}
			body := fmt.Sprintf("Your contract with **%v** ends on %v (%v days left). Ask the assistant to renew it.",
				ev.Metadata["employer_name"], ev.Metadata["end_date"], ev.Metadata["days_remaining"])
			notify.Send(ctx, s.notifier, notify.Notification{
				UserID: userID,
				Kind:   notify.KindContractExpiring,
				Title:  "Your employment contract is about to expire",
				Body:   body,
				Data:   ev.Metadata,
			}, s.logger)
			res.Notifications++
		}
	}
	return res, nil
}

// Start schedules ScanAll and blocks until ctx is done.
func (s *Scanner) Start(ctx context.Context, spec string) error {
	if _, err := s.c.AddFunc(spec, func() {
		res, err := s.ScanAll(ctx)
		if err != nil {
			s.logger.Error("Proactive scan failed", "error", err)
			return
		}
		s.logger.Info("Proactive scan complete", "users", res.Users, "events", res.Events, "notifications", res.Notifications)
	}); err != nil {
		return fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}

	s.c.Start()
	s.logger.Info("Proactive scanner started", "schedule", spec)
	<-ctx.Done()
	<-s.c.Stop().Done()
	s.logger.Info("Proactive scanner stopped")
	return nil
}
