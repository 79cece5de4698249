package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/notify"
	"github.com/ashureev/portal-agent/internal/store"
)

const serviceTickets = "tickets"

func (ts *toolset) createTicketTool() *Tool {
	return &Tool{
		Name: "createTicket",
		Description: "Open a support ticket for the user. Use when the user reports a problem, " +
			"complains, or asks for something no other tool can do.",
		Parameters: Schema{
			Properties: map[string]Property{
				"title":       {Type: TypeString, Description: "Short title of the issue"},
				"description": {Type: TypeString, Description: "What the user needs, in one or two sentences"},
				"category":    {Type: TypeString, Description: "Category such as complaint, inquiry, technical"},
				"priority":    {Type: TypeString, Enum: []string{"low", "normal", "high"}},
			},
			Required: []string{"title", "description"},
		},
		Kind:    KindMutate,
		Service: serviceTickets,
		Execute: ts.createTicket,
	}
}

func (ts *toolset) createTicket(ctx context.Context, params map[string]any) Result {
	userID := stringParam(params, "user_id")
	now := ts.now()

	category := stringParam(params, "category")
	if category == "" {
		category = "general"
	}
	priority := stringParam(params, "priority")
	if priority == "" {
		priority = "normal"
	}

	ticket := &domain.Ticket{
		TicketNumber: referenceNumber("TKT", now),
		UserID:       userID,
		Title:        stringParam(params, "title"),
		Category:     category,
		Description:  stringParam(params, "description"),
		Priority:     priority,
		Status:       domain.TicketOpen,
	}
	if err := ts.store.Insert(ctx, store.Tickets, ticket); err != nil {
		return ts.upstream("createTicket", err)
	}

	ts.notify(ctx, notify.Notification{
		UserID: userID,
		Kind:   notify.KindTicketOpened,
		Title:  "Ticket " + ticket.TicketNumber + " opened",
		Body:   fmt.Sprintf("**%s**\n\n%s", ticket.Title, ticket.Description),
		Data:   map[string]any{"ticket_number": ticket.TicketNumber},
	})

	return OK(ticket, fmt.Sprintf("تم فتح التذكرة %s. / Ticket %s opened.", ticket.TicketNumber, ticket.TicketNumber))
}

func (ts *toolset) getTicketsTool() *Tool {
	return &Tool{
		Name:        "getTickets",
		Description: "List the user's support tickets, newest first. Optionally filter by status (open or closed).",
		Parameters: Schema{
			Properties: map[string]Property{
				"status": {Type: TypeString, Enum: []string{domain.TicketOpen, domain.TicketClosed}},
			},
		},
		Kind:    KindRead,
		Service: serviceTickets,
		Execute: func(ctx context.Context, params map[string]any) Result {
			q := store.Query{Limit: 20}
			if status := stringParam(params, "status"); status != "" {
				q.Where = map[string]any{"status": status}
			}
			var tickets []domain.Ticket
			if err := ts.store.FindByUser(ctx, store.Tickets, stringParam(params, "user_id"), q, &tickets); err != nil {
				return ts.upstream("getTickets", err)
			}
			return OK(tickets, fmt.Sprintf("%d ticket(s)", len(tickets)))
		},
	}
}

func (ts *toolset) closeTicketTool() *Tool {
	return &Tool{
		Name:        "closeTicket",
		Description: "Close one of the user's open tickets by id or ticket number once the issue is resolved.",
		Parameters: Schema{
			Properties: map[string]Property{
				"ticket_id":  {Type: TypeString, Description: "Ticket id or ticket number (TKT-...)"},
				"resolution": {Type: TypeString, Description: "How the issue was resolved"},
			},
			Required: []string{"ticket_id"},
		},
		Kind:    KindMutate,
		Service: serviceTickets,
		Execute: ts.closeTicket,
	}
}

func (ts *toolset) closeTicket(ctx context.Context, params map[string]any) Result {
	userID := stringParam(params, "user_id")
	ref := stringParam(params, "ticket_id")

	ticket, err := ts.findTicket(ctx, userID, ref)
	if res, ok := ts.lookup("closeTicket", err); !ok {
		return res
	}
	if ticket.Status == domain.TicketClosed {
		return Fail(ErrCodeValidation, msgTicketClosed)
	}

	now := ts.now().UTC()
	resolution := stringParam(params, "resolution")
	if err := ts.store.Update(ctx, store.Tickets, ticket.ID, map[string]any{
		"status":     domain.TicketClosed,
		"resolution": resolution,
		"closed_at":  now,
	}); err != nil {
		return ts.upstream("closeTicket", err)
	}
	ticket.Status = domain.TicketClosed
	ticket.Resolution = resolution
	ticket.ClosedAt = &now

	ts.notify(ctx, notify.Notification{
		UserID: userID,
		Kind:   notify.KindTicketClosed,
		Title:  "Ticket " + ticket.TicketNumber + " closed",
		Body:   resolution,
		Data:   map[string]any{"ticket_number": ticket.TicketNumber},
	})

	return OK(ticket, fmt.Sprintf("تم إغلاق التذكرة %s. / Ticket %s closed.", ticket.TicketNumber, ticket.TicketNumber))
}

func (ts *toolset) findTicket(ctx context.Context, userID, ref string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := ts.loadOwned(ctx, store.Tickets, ref, userID, &ticket)
	if err == nil {
		return &ticket, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var byNumber []domain.Ticket
	if err := ts.store.FindByUser(ctx, store.Tickets, userID, store.Query{
		Where: map[string]any{"ticket_number": ref},
		Limit: 1,
	}, &byNumber); err != nil {
		return nil, err
	}
	if len(byNumber) == 0 {
		return nil, store.ErrNotFound
	}
	return &byNumber[0], nil
}
