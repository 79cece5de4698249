package proactive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestStore returns a store whose timestamps follow clock.
func newTestStore(t *testing.T, clock *fakeClock) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustInsert(t *testing.T, s store.Store, collection string, doc any) {
	t.Helper()
	if err := s.Insert(context.Background(), collection, doc); err != nil {
		t.Fatalf("Insert(%s) error = %v", collection, err)
	}
}

func contractEndingIn(userID, employer string, days int) *domain.EmploymentContract {
	return &domain.EmploymentContract{
		UserID:       userID,
		EmployerName: employer,
		Status:       domain.ContractActive,
		StartDate:    testStart.AddDate(-1, 0, 0),
		EndDate:      testStart.AddDate(0, 0, days),
	}
}

func TestContractExpiryWindow(t *testing.T) {
	tests := []struct {
		days int
		want bool
	}{
		{-1, false},
		{0, false},
		{1, true},
		{10, true},
		{30, true},
		{31, false},
	}

	for _, tt := range tests {
		clock := &fakeClock{t: testStart}
		s := newTestStore(t, clock)
		mustInsert(t, s, store.EmploymentContracts, contractEndingIn("u1", "Acme", tt.days))
		e := NewTriggerEngine(s, WithTriggerClock(clock.Now))

		events, err := e.RunDetector(context.Background(), DetectorContractExpiry, "u1")
		if err != nil {
			t.Fatalf("RunDetector() error = %v", err)
		}
		if got := len(events) == 1; got != tt.want {
			t.Errorf("days=%d: event emitted = %v, want %v", tt.days, got, tt.want)
		}
	}
}

func TestContractExpiryMetadata(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	c := contractEndingIn("u1", "Acme Trading", 10)
	mustInsert(t, s, store.EmploymentContracts, c)
	mustInsert(t, s, store.EmploymentContracts, contractEndingIn("u2", "Other", 5))
	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))

	events, err := e.RunDetector(context.Background(), DetectorContractExpiry, "u1")
	if err != nil {
		t.Fatalf("RunDetector() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventType != domain.EventContractExpiringSoon || ev.UserID != "u1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Metadata["contract_id"] != c.ID || ev.Metadata["employer_name"] != "Acme Trading" || ev.Metadata["days_remaining"] != float64(10) {
		t.Errorf("metadata = %+v", ev.Metadata)
	}
	if ev.SuggestedTool != "renewContract" {
		t.Errorf("suggested tool = %q", ev.SuggestedTool)
	}
	if ev.ID == "" {
		t.Error("expected event to be persisted with an ID")
	}
}

func TestTriggersAreNotDeduplicated(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	mustInsert(t, s, store.EmploymentContracts, contractEndingIn("u1", "Acme", 10))
	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		events, err := e.RunDetector(ctx, DetectorContractExpiry, "u1")
		if err != nil {
			t.Fatalf("RunDetector() error = %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("run %d: expected 1 event, got %d", i, len(events))
		}
	}

	var stored []domain.ProactiveEvent
	if err := s.FindByUser(ctx, store.ProactiveEvents, "u1", store.Query{}, &stored); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("expected 2 stored events, got %d", len(stored))
	}
}

func TestAppointmentReminderWindow(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	for _, days := range []int{0, 3, 4} {
		mustInsert(t, s, store.LaborAppointments, &domain.LaborAppointment{
			UserID:          "u1",
			Office:          "Riyadh",
			ServiceType:     "contract_review",
			AppointmentDate: testStart.AddDate(0, 0, days),
			Status:          domain.AppointmentScheduled,
		})
	}
	mustInsert(t, s, store.LaborAppointments, &domain.LaborAppointment{
		UserID:          "u1",
		Office:          "Riyadh",
		AppointmentDate: testStart.AddDate(0, 0, 1),
		Status:          domain.AppointmentCancelled,
	})
	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))

	events, err := e.RunDetector(context.Background(), DetectorAppointmentReminder, "u1")
	if err != nil {
		t.Fatalf("RunDetector() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 reminders (today and in 3 days), got %d", len(events))
	}
}

func TestTicketFollowUpAge(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	old := &domain.Ticket{UserID: "u1", TicketNumber: "TKT-1", Title: "Salary delay", Status: domain.TicketOpen}
	mustInsert(t, s, store.Tickets, old)
	closed := &domain.Ticket{UserID: "u1", TicketNumber: "TKT-2", Title: "Done", Status: domain.TicketClosed}
	mustInsert(t, s, store.Tickets, closed)

	clock.Advance(4 * 24 * time.Hour)
	fresh := &domain.Ticket{UserID: "u1", TicketNumber: "TKT-3", Title: "New", Status: domain.TicketOpen}
	mustInsert(t, s, store.Tickets, fresh)

	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))
	events, err := e.RunDetector(context.Background(), DetectorTicketFollowUp, "u1")
	if err != nil {
		t.Fatalf("RunDetector() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 follow-up, got %d", len(events))
	}
	if events[0].Metadata["ticket_number"] != "TKT-1" || events[0].Metadata["days_open"] != float64(4) {
		t.Errorf("metadata = %+v", events[0].Metadata)
	}
}

func TestDissatisfactionThreshold(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))
	ctx := context.Background()

	events, err := e.RunDetector(ctx, DetectorDissatisfaction, "u1")
	if err != nil || len(events) != 0 {
		t.Fatalf("no behavior row: events = %v, err = %v", events, err)
	}

	if err := s.Upsert(ctx, store.UserBehavior, "u1", "u1", map[string]any{"consecutive_complaints_count": 1}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if events, _ := e.RunDetector(ctx, DetectorDissatisfaction, "u1"); len(events) != 0 {
		t.Errorf("one complaint should not trigger, got %d events", len(events))
	}

	if err := s.Upsert(ctx, store.UserBehavior, "u1", "u1", map[string]any{"consecutive_complaints_count": 2}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	events, err = e.RunDetector(ctx, DetectorDissatisfaction, "u1")
	if err != nil {
		t.Fatalf("RunDetector() error = %v", err)
	}
	if len(events) != 1 || events[0].SuggestedTool != "createTicket" {
		t.Errorf("events = %+v", events)
	}
}

func TestIncompleteResume(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))
	ctx := context.Background()

	events, err := e.RunDetector(ctx, DetectorIncompleteResume, "u1")
	if err != nil || len(events) != 0 {
		t.Fatalf("no resume: events = %v, err = %v", events, err)
	}

	mustInsert(t, s, store.Resumes, &domain.Resume{
		UserID:   "u1",
		Headline: "Backend engineer",
		Skills:   []string{"go"},
	})
	events, err = e.RunDetector(ctx, DetectorIncompleteResume, "u1")
	if err != nil {
		t.Fatalf("RunDetector() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	// Metadata comes back in its stored JSON form.
	missing, ok := events[0].Metadata["missing"].(map[string]any)
	if !ok {
		t.Fatalf("missing = %T", events[0].Metadata["missing"])
	}
	want := map[string]bool{"headline": false, "summary": true, "skills": false, "experience_years": true}
	for k, v := range want {
		if missing[k] != v {
			t.Errorf("missing[%s] = %v, want %v", k, missing[k], v)
		}
	}

	years := 0
	mustInsert(t, s, store.Resumes, &domain.Resume{
		UserID:          "u2",
		Headline:        "Nurse",
		Summary:         "Ten years in ICU",
		Skills:          []string{"triage"},
		ExperienceYears: &years,
	})
	if events, _ := e.RunDetector(ctx, DetectorIncompleteResume, "u2"); len(events) != 0 {
		t.Errorf("complete resume with zero years should not trigger, got %+v", events)
	}
}

func TestRunIsolatesFailingDetectors(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	mustInsert(t, s, store.EmploymentContracts, contractEndingIn("u1", "Acme", 10))
	base := NewTriggerEngine(s, WithTriggerClock(clock.Now))

	e := NewTriggerEngine(s,
		WithTriggerClock(clock.Now),
		WithDetectors(
			Detector{Name: "boom", Detect: func(context.Context, string, time.Time) ([]domain.ProactiveEvent, error) {
				panic("detector exploded")
			}},
			Detector{Name: "broken", Detect: func(context.Context, string, time.Time) ([]domain.ProactiveEvent, error) {
				return nil, errors.New("store unavailable")
			}},
			Detector{Name: DetectorContractExpiry, Detect: base.detectContractExpiry},
		),
	)

	events := e.Run(context.Background(), "u1")
	if len(events) != 1 || events[0].EventType != domain.EventContractExpiringSoon {
		t.Errorf("events = %+v", events)
	}

	if _, err := e.RunDetector(context.Background(), "boom", "u1"); err == nil {
		t.Error("expected panic to surface as an error")
	}
	if _, err := e.RunDetector(context.Background(), "missing", "u1"); err == nil {
		t.Error("expected error for unknown detector")
	}
}

func TestMarkActed(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	mustInsert(t, s, store.EmploymentContracts, contractEndingIn("u1", "Acme", 10))
	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))
	ctx := context.Background()

	events := e.Run(ctx, "u1")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	id := events[0].ID

	if err := e.MarkActed(ctx, "u2", id, "acknowledged"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("other user: err = %v, want ErrNotFound", err)
	}
	if err := e.MarkActed(ctx, "u1", id, "acknowledged"); err != nil {
		t.Fatalf("MarkActed() error = %v", err)
	}
	if err := e.MarkActed(ctx, "u1", id, "again"); err != nil {
		t.Errorf("second MarkActed() error = %v", err)
	}

	var ev domain.ProactiveEvent
	if err := s.FindByID(ctx, store.ProactiveEvents, id, &ev); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if !ev.Acted || ev.ActionTaken != "acknowledged" || ev.ActionAt == nil {
		t.Errorf("event = %+v", ev)
	}

	pending, err := e.Pending(ctx, "u1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending events, got %d", len(pending))
	}
}

func TestMarkActedByTool(t *testing.T) {
	clock := &fakeClock{t: testStart}
	s := newTestStore(t, clock)
	mustInsert(t, s, store.EmploymentContracts, contractEndingIn("u1", "Acme", 10))
	mustInsert(t, s, store.Resumes, &domain.Resume{UserID: "u1"})
	e := NewTriggerEngine(s, WithTriggerClock(clock.Now))
	ctx := context.Background()

	if events := e.Run(ctx, "u1"); len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if err := e.MarkActedByTool(ctx, "u1", "renewContract"); err != nil {
		t.Fatalf("MarkActedByTool() error = %v", err)
	}

	pending, err := e.Pending(ctx, "u1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != domain.EventIncompleteResume {
		t.Errorf("pending = %+v", pending)
	}
}
