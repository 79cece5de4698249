package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/portal-agent/internal/domain"
)

func newTestStore(t *testing.T, opts ...Option) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAssignsIDAndTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ticket := &domain.Ticket{UserID: "u1", Title: "Salary delay", Status: domain.TicketOpen}
	if err := s.Insert(ctx, Tickets, ticket); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if ticket.ID == "" {
		t.Fatal("expected generated id")
	}
	if !ticket.CreatedAt.Equal(now) || !ticket.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", ticket.CreatedAt, ticket.UpdatedAt, now)
	}

	var got domain.Ticket
	if err := s.FindByID(ctx, Tickets, ticket.ID, &got); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Title != "Salary delay" || got.UserID != "u1" {
		t.Errorf("unexpected ticket: %+v", got)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	var got domain.Ticket
	err := s.FindByID(context.Background(), Tickets, "missing", &got)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByUserFiltersAndOrders(t *testing.T) {
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	ctx := context.Background()

	for _, tk := range []*domain.Ticket{
		{UserID: "u1", Title: "first", Status: domain.TicketOpen},
		{UserID: "u1", Title: "second", Status: domain.TicketClosed},
		{UserID: "u1", Title: "third", Status: domain.TicketOpen},
		{UserID: "u2", Title: "other", Status: domain.TicketOpen},
	} {
		if err := s.Insert(ctx, Tickets, tk); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	var open []domain.Ticket
	if err := s.FindByUser(ctx, Tickets, "u1", Query{Where: map[string]any{"status": domain.TicketOpen}}, &open); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open tickets, got %d", len(open))
	}
	if open[0].Title != "third" || open[1].Title != "first" {
		t.Errorf("expected newest first, got %q, %q", open[0].Title, open[1].Title)
	}

	var limited []domain.Ticket
	if err := s.FindByUser(ctx, Tickets, "u1", Query{Asc: true, Limit: 1}, &limited); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(limited) != 1 || limited[0].Title != "first" {
		t.Errorf("unexpected limited result: %+v", limited)
	}

	var all []domain.Ticket
	if err := s.FindAll(ctx, Tickets, Query{Where: map[string]any{"status": domain.TicketOpen}}, &all); err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 open tickets across users, got %d", len(all))
	}
}

func TestFindBoolFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, acted := range []bool{false, true, false} {
		ev := &domain.ProactiveEvent{UserID: "u1", EventType: domain.EventTicketFollowUp, Acted: acted}
		if err := s.Insert(ctx, ProactiveEvents, ev); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	var pending []domain.ProactiveEvent
	if err := s.FindByUser(ctx, ProactiveEvents, "u1", Query{Where: map[string]any{"acted": false}}, &pending); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending events, got %d", len(pending))
	}
}

func TestFindRejectsInvalidField(t *testing.T) {
	s := newTestStore(t)
	var out []domain.Ticket
	err := s.FindByUser(context.Background(), Tickets, "u1", Query{Where: map[string]any{"status') OR 1=1 --": "x"}}, &out)
	if err == nil {
		t.Fatal("expected error for invalid field name")
	}
}

func TestUpdateMergesPatch(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := created
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ticket := &domain.Ticket{UserID: "u1", Title: "t", Status: domain.TicketOpen}
	if err := s.Insert(ctx, Tickets, ticket); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	now = created.Add(time.Hour)
	if err := s.Update(ctx, Tickets, ticket.ID, map[string]any{
		"status":     domain.TicketClosed,
		"resolution": "done",
		"user_id":    "intruder",
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	var got domain.Ticket
	if err := s.FindByID(ctx, Tickets, ticket.ID, &got); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Status != domain.TicketClosed || got.Resolution != "done" {
		t.Errorf("patch not applied: %+v", got)
	}
	if got.UserID != "u1" {
		t.Errorf("user_id must not change, got %q", got.UserID)
	}
	if got.Title != "t" {
		t.Errorf("unpatched field lost: %q", got.Title)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v", got.CreatedAt, got.UpdatedAt)
	}

	if err := s.Update(ctx, Tickets, "missing", map[string]any{"status": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertCreatesThenMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, UserBehavior, "u1", "u1", map[string]any{"intent": "tickets", "interaction_count": 1}); err != nil {
		t.Fatalf("Upsert() create error = %v", err)
	}
	if err := s.Upsert(ctx, UserBehavior, "u1", "u1", map[string]any{"interaction_count": 2}); err != nil {
		t.Fatalf("Upsert() merge error = %v", err)
	}

	var got domain.UserBehaviorProfile
	if err := s.FindByID(ctx, UserBehavior, "u1", &got); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.UserID != "u1" || got.Intent != "tickets" || got.InteractionCount != 2 {
		t.Errorf("unexpected behavior profile: %+v", got)
	}

	var rows []domain.UserBehaviorProfile
	if err := s.FindByUser(ctx, UserBehavior, "u1", Query{}, &rows); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected a single behavior row, got %d", len(rows))
	}
}
