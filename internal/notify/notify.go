// Package notify delivers user notifications for ticket and contract events.
package notify

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/yuin/goldmark"
)

// Notification kinds.
const (
	KindTicketOpened     = "ticket_opened"
	KindTicketClosed     = "ticket_closed"
	KindContractExpiring = "contract_expiring"
)

// Notification is one message for a user. Body is markdown; HTML is
// rendered from it on dispatch.
type Notification struct {
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	HTML      string         `json:"html,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Send dispatches n and logs any failure. Delivery is fire-and-forget: the
// caller never sees an error. A nil dispatcher drops the notification.
func Send(ctx context.Context, d Dispatcher, n Notification, logger *slog.Logger) {
	if d == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.HTML == "" && n.Body != "" {
		n.HTML = renderMarkdown(n.Body, logger)
	}
	if err := d.Dispatch(ctx, n); err != nil {
		logger.Warn("Notification dispatch failed", "user_id", n.UserID, "kind", n.Kind, "error", err)
	}
}

func renderMarkdown(body string, logger *slog.Logger) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		logger.Debug("Failed to render notification body", "error", err)
		return ""
	}
	return buf.String()
}

// LogDispatcher writes notifications to the log. Used when no delivery
// channel is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the notification.
func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.logger.Info("Notification", "user_id", n.UserID, "kind", n.Kind, "title", n.Title)
	return nil
}

// Multi fans a notification out to several dispatchers and returns the
// first error.
type Multi []Dispatcher

// Dispatch implements Dispatcher.
func (m Multi) Dispatch(ctx context.Context, n Notification) error {
	var first error
	for _, d := range m {
		if err := d.Dispatch(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
