package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/extract"
	"github.com/ashureev/portal-agent/internal/notify"
	"github.com/ashureev/portal-agent/internal/store"
	"github.com/google/uuid"
)

// EventMarker marks pending proactive events handled once the tool they
// suggested has succeeded.
type EventMarker interface {
	MarkActedByTool(ctx context.Context, userID, toolName string) error
}

// Deps are the collaborators the tool catalogue needs.
type Deps struct {
	Store     store.Store
	Actions   *actionlog.Logger
	Notifier  notify.Dispatcher
	Extractor extract.Extractor
	Events    EventMarker
	Logger    *slog.Logger
	Now       func() time.Time
}

type toolset struct {
	store     store.Store
	actions   *actionlog.Logger
	notifier  notify.Dispatcher
	extractor extract.Extractor
	events    EventMarker
	logger    *slog.Logger
	now       func() time.Time
}

// New builds the canonical tool registry. The result is never mutated;
// wrap it with WithIdentity per request.
func New(d Deps) *Registry {
	ts := &toolset{
		store:     d.Store,
		actions:   d.Actions,
		notifier:  d.Notifier,
		extractor: d.Extractor,
		events:    d.Events,
		logger:    d.Logger,
		now:       d.Now,
	}
	if ts.logger == nil {
		ts.logger = slog.Default()
	}
	if ts.now == nil {
		ts.now = time.Now
	}
	if ts.actions == nil {
		ts.actions = actionlog.New(d.Store, ts.logger)
	}

	all := []*Tool{
		ts.createTicketTool(),
		ts.getTicketsTool(),
		ts.closeTicketTool(),
		ts.getContractsTool(),
		ts.renewContractTool(),
		ts.getResumeTool(),
		ts.createResumeTool(),
		ts.updateResumeTool(),
		ts.addResumeCourseTool(),
		ts.extractResumeFieldsTool(),
		ts.getCertificatesTool(),
		ts.createCertificateTool(),
		ts.getAppointmentsTool(),
		ts.scheduleAppointmentTool(),
		ts.cancelAppointmentTool(),
		ts.getDomesticLaborRequestsTool(),
		ts.createDomesticLaborRequestTool(),
		ts.cancelDomesticLaborRequestTool(),
		ts.getUserProfileTool(),
	}
	for _, t := range all {
		t.Parameters = withUserID(t.Parameters)
		ts.bookkeep(t)
	}
	return NewRegistry(ts.logger, all...)
}

// bookkeep wraps a tool's execute with the success side effects: audit
// entry, last_seen_service, and the follow-up ticket for ticketed tools.
func (ts *toolset) bookkeep(t *Tool) {
	exec := t.Execute
	t.Execute = func(ctx context.Context, params map[string]any) Result {
		res := exec(ctx, params)
		if !res.Success {
			return res
		}
		userID := stringParam(params, "user_id")

		if t.Kind != KindRead {
			if err := ts.actions.Log(ctx, userID, t.Name, params, res.Data); err != nil {
				ts.logger.Warn("Failed to log tool action", "tool", t.Name, "user_id", userID, "error", err)
			}
		}
		if t.Service != "" {
			if err := ts.actions.TouchService(ctx, userID, t.Service); err != nil {
				ts.logger.Warn("Failed to update last seen service", "tool", t.Name, "user_id", userID, "error", err)
			}
		}
		if t.Kind == KindTicketed {
			res.TicketNumber = ts.openFollowUp(ctx, userID, t, res)
		}
		if ts.events != nil {
			if err := ts.events.MarkActedByTool(ctx, userID, t.Name); err != nil {
				ts.logger.Warn("Failed to mark proactive events acted", "tool", t.Name, "user_id", userID, "error", err)
			}
		}
		return res
	}
}

func (ts *toolset) openFollowUp(ctx context.Context, userID string, t *Tool, res Result) string {
	desc := res.Summary
	if desc == "" {
		desc = t.TicketTitle
	}
	params := map[string]any{
		"user_id":     userID,
		"title":       t.TicketTitle,
		"description": desc,
		"category":    domain.CategoryAgentAction,
	}
	// Called unwrapped: the follow-up must not touch last_seen_service or
	// mark events acted on behalf of createTicket.
	tr := ts.createTicket(ctx, params)
	if !tr.Success {
		ts.logger.Warn("Failed to open follow-up ticket", "tool", t.Name, "user_id", userID, "error", tr.Error)
		return ""
	}
	if err := ts.actions.Log(ctx, userID, "createTicket", params, tr.Data); err != nil {
		ts.logger.Warn("Failed to log follow-up ticket", "tool", t.Name, "user_id", userID, "error", err)
	}
	if ticket, ok := tr.Data.(*domain.Ticket); ok {
		return ticket.TicketNumber
	}
	return ""
}

// upstream logs err in full and returns the generic failure result.
func (ts *toolset) upstream(tool string, err error) Result {
	ts.logger.Error("Tool failed", "tool", tool, "error", err)
	return Fail(ErrCodeUpstream, msgUpstream)
}

// lookup maps a load error to a result. ok is false when res must be returned.
func (ts *toolset) lookup(tool string, err error) (res Result, ok bool) {
	switch {
	case err == nil:
		return Result{}, true
	case errors.Is(err, store.ErrNotFound):
		return Fail(ErrCodeNotFound, msgNotFound), false
	default:
		return ts.upstream(tool, err), false
	}
}

// loadOwned loads a record and reports ErrNotFound when it belongs to
// someone else, so other users' records are indistinguishable from missing.
func (ts *toolset) loadOwned(ctx context.Context, collection, id, userID string, out any) error {
	var raw json.RawMessage
	if err := ts.store.FindByID(ctx, collection, id, &raw); err != nil {
		return err
	}
	var owner struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &owner); err != nil {
		return fmt.Errorf("decode owner: %w", err)
	}
	if owner.UserID != userID {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s record: %w", collection, err)
	}
	return nil
}

func (ts *toolset) notify(ctx context.Context, n notify.Notification) {
	notify.Send(ctx, ts.notifier, n, ts.logger)
}

// referenceNumber builds identifiers such as TKT-20260301-3F9A1C.
func referenceNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"),
		strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6]))
}

func withUserID(s Schema) Schema {
	props := make(map[string]Property, len(s.Properties)+1)
	for k, v := range s.Properties {
		props[k] = v
	}
	props["user_id"] = Property{
		Type:        TypeString,
		Description: "ID of the signed-in user. Filled in automatically; leave empty.",
	}
	required := append([]string{"user_id"}, s.Required...)
	return Schema{Properties: props, Required: required}
}
