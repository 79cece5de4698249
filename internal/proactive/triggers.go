package proactive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

// Detection windows.
const (
	ContractExpiryWindowDays  = 30
	AppointmentReminderDays   = 3
	TicketFollowUpAfter       = 3 * 24 * time.Hour
	DissatisfactionComplaints = 2
)

// Detector names.
const (
	DetectorContractExpiry      = "contract_expiry"
	DetectorAppointmentReminder = "appointment_reminder"
	DetectorTicketFollowUp      = "ticket_follow_up"
	DetectorDissatisfaction     = "dissatisfaction"
	DetectorIncompleteResume    = "incomplete_resume"
)

// DetectFunc scans one collection for a user and returns the events that
// match. It does not persist them.
type DetectFunc func(ctx context.Context, userID string, now time.Time) ([]domain.ProactiveEvent, error)

// Detector is one named trigger rule.
type Detector struct {
	Name   string
	Detect DetectFunc
}

// TriggerEngine runs the detectors for a user and persists what they emit.
// Events are re-emitted on every run while the condition holds.
type TriggerEngine struct {
	store     store.Store
	now       func() time.Time
	logger    *slog.Logger
	detectors []Detector
}

// TriggerOption configures a TriggerEngine.
type TriggerOption func(*TriggerEngine)

// WithTriggerClock overrides the clock used for time windows.
func WithTriggerClock(now func() time.Time) TriggerOption {
	return func(e *TriggerEngine) { e.now = now }
}

// WithTriggerLogger sets the logger.
func WithTriggerLogger(l *slog.Logger) TriggerOption {
	return func(e *TriggerEngine) { e.logger = l }
}

// WithDetectors replaces the detector set.
func WithDetectors(ds ...Detector) TriggerOption {
	return func(e *TriggerEngine) { e.detectors = ds }
}

// NewTriggerEngine creates an engine with the five standard detectors.
func NewTriggerEngine(s store.Store, opts ...TriggerOption) *TriggerEngine {
	e := &TriggerEngine{store: s, now: time.Now, logger: slog.Default()}
	e.detectors = []Detector{
		{Name: DetectorContractExpiry, Detect: e.detectContractExpiry},
		{Name: DetectorAppointmentReminder, Detect: e.detectAppointmentReminder},
		{Name: DetectorTicketFollowUp, Detect: e.detectTicketFollowUp},
		{Name: DetectorDissatisfaction, Detect: e.detectDissatisfaction},
		{Name: DetectorIncompleteResume, Detect: e.detectIncompleteResume},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every detector. A failing detector is logged and skipped.
func (e *TriggerEngine) Run(ctx context.Context, userID string) []domain.ProactiveEvent {
	now := e.now()
	var all []domain.ProactiveEvent
	for _, d := range e.detectors {
		events, err := e.runDetector(ctx, d, userID, now)
		if err != nil {
			e.logger.Warn("Proactive detector failed", "detector", d.Name, "user_id", userID, "error", err)
			continue
		}
		all = append(all, events...)
	}
	return all
}

// RunDetector executes one detector by name.
func (e *TriggerEngine) RunDetector(ctx context.Context, name, userID string) ([]domain.ProactiveEvent, error) {
	for _, d := range e.detectors {
		if d.Name == name {
			return e.runDetector(ctx, d, userID, e.now())
		}
	}
	return nil, fmt.Errorf("unknown detector %q", name)
}

func (e *TriggerEngine) runDetector(ctx context.Context, d Detector, userID string, now time.Time) (events []domain.ProactiveEvent, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Proactive detector panicked", "detector", d.Name, "panic", rec, "stack", string(debug.Stack()))
			events, err = nil, fmt.Errorf("detector %s panicked: %v", d.Name, rec)
		}
	}()

	found, err := d.Detect(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	for i := range found {
		found[i].UserID = userID
		found[i].DetectedAt = now.UTC()
		if err := e.store.Insert(ctx, store.ProactiveEvents, &found[i]); err != nil {
			e.logger.Warn("Failed to persist proactive event", "detector", d.Name, "event_type", found[i].EventType, "user_id", userID, "error", err)
		}
	}
	return found, nil
}

func (e *TriggerEngine) detectContractExpiry(ctx context.Context, userID string, now time.Time) ([]domain.ProactiveEvent, error) {
	var contracts []domain.EmploymentContract
	if err := e.store.FindByUser(ctx, store.EmploymentContracts, userID, store.Query{
		Where:   map[string]any{"status": domain.ContractActive},
		OrderBy: "end_date",
		Asc:     true,
	}, &contracts); err != nil {
		return nil, fmt.Errorf("load contracts: %w", err)
	}

	var events []domain.ProactiveEvent
	for _, c := range contracts {
		days := domain.DaysUntil(now, c.EndDate)
		if days <= 0 || days > ContractExpiryWindowDays {
			continue
		}
		events = append(events, domain.ProactiveEvent{
			EventType: domain.EventContractExpiringSoon,
			Metadata: map[string]any{
				"contract_id":    c.ID,
				"employer_name":  c.EmployerName,
				"end_date":       c.EndDate.Format("2006-01-02"),
				"days_remaining": days,
			},
			SuggestedAction: fmt.Sprintf("Your contract with %s ends in %d days. Offer to renew it.", c.EmployerName, days),
			SuggestedTool:   "renewContract",
		})
	}
	return events, nil
}

func (e *TriggerEngine) detectAppointmentReminder(ctx context.Context, userID string, now time.Time) ([]domain.ProactiveEvent, error) {
	var appts []domain.LaborAppointment
	if err := e.store.FindByUser(ctx, store.LaborAppointments, userID, store.Query{
		Where:   map[string]any{"status": domain.AppointmentScheduled},
		OrderBy: "appointment_date",
		Asc:     true,
	}, &appts); err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	var events []domain.ProactiveEvent
	for _, a := range appts {
		days := domain.DaysUntil(now, a.AppointmentDate)
		if days < 0 || days > AppointmentReminderDays {
			continue
		}
		events = append(events, domain.ProactiveEvent{
			EventType: domain.EventUpcomingAppointment,
			Metadata: map[string]any{
				"appointment_id":   a.ID,
				"office":           a.Office,
				"service_type":     a.ServiceType,
				"appointment_date": a.AppointmentDate.Format("2006-01-02 15:04"),
				"days_until":       days,
			},
			SuggestedAction: fmt.Sprintf("Remind the user of the %s appointment at %s on %s.",
				a.ServiceType, a.Office, a.AppointmentDate.Format("2006-01-02")),
			SuggestedTool: "getAppointments",
		})
	}
	return events, nil
}

func (e *TriggerEngine) detectTicketFollowUp(ctx context.Context, userID string, now time.Time) ([]domain.ProactiveEvent, error) {
	var tickets []domain.Ticket
	if err := e.store.FindByUser(ctx, store.Tickets, userID, store.Query{
		Where: map[string]any{"status": domain.TicketOpen},
		Asc:   true,
	}, &tickets); err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}

	var events []domain.ProactiveEvent
	for _, t := range tickets {
		age := now.Sub(t.CreatedAt)
		if age <= TicketFollowUpAfter {
			continue
		}
		events = append(events, domain.ProactiveEvent{
			EventType: domain.EventTicketFollowUp,
			Metadata: map[string]any{
				"ticket_id":     t.ID,
				"ticket_number": t.TicketNumber,
				"title":         t.Title,
				"days_open":     int(age / (24 * time.Hour)),
			},
			SuggestedAction: fmt.Sprintf("Ticket %s (%s) has been open for %d days. Offer a status update.",
				t.TicketNumber, t.Title, int(age/(24*time.Hour))),
			SuggestedTool: "getTickets",
		})
	}
	return events, nil
}

func (e *TriggerEngine) detectDissatisfaction(ctx context.Context, userID string, _ time.Time) ([]domain.ProactiveEvent, error) {
	var b domain.UserBehaviorProfile
	err := e.store.FindByID(ctx, store.UserBehavior, userID, &b)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load behavior: %w", err)
	}
	if b.ConsecutiveComplaintsCount < DissatisfactionComplaints {
		return nil, nil
	}
	return []domain.ProactiveEvent{{
		EventType:       domain.EventUserDissatisfaction,
		Metadata:        map[string]any{"consecutive_complaints": b.ConsecutiveComplaintsCount},
		SuggestedAction: "The user has complained repeatedly. Apologize and offer to escalate with a support ticket.",
		SuggestedTool:   "createTicket",
	}}, nil
}

func (e *TriggerEngine) detectIncompleteResume(ctx context.Context, userID string, _ time.Time) ([]domain.ProactiveEvent, error) {
	var resumes []domain.Resume
	if err := e.store.FindByUser(ctx, store.Resumes, userID, store.Query{Limit: 1}, &resumes); err != nil {
		return nil, fmt.Errorf("load resume: %w", err)
	}
	if len(resumes) == 0 {
		return nil, nil
	}
	r := resumes[0]

	missing := map[string]bool{
		"headline":         r.Headline == "",
		"summary":          r.Summary == "",
		"skills":           len(r.Skills) == 0,
		"experience_years": r.ExperienceYears == nil,
	}
	var names []string
	for _, field := range []string{"headline", "summary", "skills", "experience_years"} {
		if missing[field] {
			names = append(names, field)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	return []domain.ProactiveEvent{{
		EventType: domain.EventIncompleteResume,
		Metadata: map[string]any{
			"resume_id":      r.ID,
			"missing":        missing,
			"missing_fields": names,
		},
		SuggestedAction: fmt.Sprintf("The resume is missing %v. Offer to complete it.", names),
		SuggestedTool:   "updateResume",
	}}, nil
}

// Pending returns the user's events that have not been acted on, newest first.
func (e *TriggerEngine) Pending(ctx context.Context, userID string) ([]domain.ProactiveEvent, error) {
	var events []domain.ProactiveEvent
	if err := e.store.FindByUser(ctx, store.ProactiveEvents, userID, store.Query{
		Where: map[string]any{"acted": false},
		Limit: 50,
	}, &events); err != nil {
		return nil, fmt.Errorf("load pending events: %w", err)
	}
	return events, nil
}

// MarkActed flags one event as handled. Events owned by other users are
// reported as store.ErrNotFound. Marking an acted event again is a no-op.
func (e *TriggerEngine) MarkActed(ctx context.Context, userID, eventID, action string) error {
	var ev domain.ProactiveEvent
	if err := e.store.FindByID(ctx, store.ProactiveEvents, eventID, &ev); err != nil {
		return err
	}
	if ev.UserID != userID {
		return store.ErrNotFound
	}
	if ev.Acted {
		return nil
	}
	return e.markActed(ctx, ev.ID, action)
}

// MarkActedByTool flags the user's pending events whose suggested tool is
// toolName.
func (e *TriggerEngine) MarkActedByTool(ctx context.Context, userID, toolName string) error {
	var events []domain.ProactiveEvent
	if err := e.store.FindByUser(ctx, store.ProactiveEvents, userID, store.Query{
		Where: map[string]any{"acted": false, "suggested_tool": toolName},
	}, &events); err != nil {
		return fmt.Errorf("load events for %s: %w", toolName, err)
	}
	for _, ev := range events {
		if err := e.markActed(ctx, ev.ID, toolName); err != nil {
			return err
		}
	}
	return nil
}

func (e *TriggerEngine) markActed(ctx context.Context, eventID, action string) error {
	if err := e.store.Update(ctx, store.ProactiveEvents, eventID, map[string]any{
		"acted":        true,
		"action_taken": action,
		"action_at":    e.now().UTC(),
	}); err != nil {
		return fmt.Errorf("mark event %s acted: %w", eventID, err)
	}
	return nil
}
