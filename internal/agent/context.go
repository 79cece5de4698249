package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/llm"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/store"
)

// predictionThreshold is the confidence above which the top prediction is
// turned into a forward suggestion.
const predictionThreshold = 0.6

const basePrompt = `You are the virtual assistant of the citizen services portal.
You help users with their employment contracts, resumes, certificates, labor office appointments,
domestic labor requests and support tickets.

Rules:
- Reply in the language the user writes in (Arabic or English).
- Use the available functions to read and change the user's records. Act on clear requests
  without asking for confirmation, then tell the user what was done.
- The user's identity is attached to every function call automatically. Never ask for it.
- Never mention function names, parameters or other internal details in your reply.
- When a change opens a follow-up ticket, give the user the ticket number.
- Keep replies short and friendly.`

// turnContext is everything assembled before the model is called.
type turnContext struct {
	entry    proactive.Entry
	name     string
	language string
	messages []llm.Message
}

// assemble builds the model input for a turn. It never fails: a missing
// display name or proactive context only makes the prompt less specific.
func assemble(ctx context.Context, d Deps, req Request) turnContext {
	tc := turnContext{}
	if d.Proactive != nil {
		tc.entry = d.Proactive.Context(ctx, req.UserID)
	}
	if p := userProfile(ctx, d.Store, req.UserID, d.Logger); p != nil {
		tc.name, tc.language = p.DisplayName(), p.PreferredLanguage
	}

	tc.messages = append(tc.messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: systemPrompt(tc.name, tc.entry, d.Now()),
	})
	tc.messages = append(tc.messages, recentHistory(req.History, historyTurns)...)
	tc.messages = append(tc.messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
	return tc
}

// systemPrompt renders the single system message for a turn.
func systemPrompt(name string, entry proactive.Entry, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	fmt.Fprintf(&sb, "\n\nToday is %s.", now.Format("2006-01-02"))
	if name != "" {
		fmt.Fprintf(&sb, " The user's name is %s; address them by name.", name)
	}

	if events := dedupeEvents(entry.Events); len(events) > 0 {
		sb.WriteString("\n\nItems that need the user's attention:\n")
		for _, ev := range events {
			fmt.Fprintf(&sb, "- %s: %s\n", ev.EventType, ev.SuggestedAction)
		}
		sb.WriteString("Mention every item above in your reply, even when the user asks about something else. Never omit these.")
	}

	if p := entry.TopPrediction(); p != nil && p.Confidence > predictionThreshold {
		fmt.Fprintf(&sb, "\n\nBased on recent activity the user most likely needs help with %s (confidence %.2f",
			strings.ReplaceAll(p.PredictedNeed, "_", " "), p.Confidence)
		if len(p.Reasoning) > 0 {
			fmt.Fprintf(&sb, "; %s", strings.Join(p.Reasoning, "; "))
		}
		sb.WriteString("). After answering, briefly offer to help with it")
		if len(p.SuggestedServices) > 0 {
			fmt.Fprintf(&sb, ", for example %s", strings.ReplaceAll(strings.Join(p.SuggestedServices, ", "), "_", " "))
		}
		sb.WriteString(".")
	}
	return sb.String()
}

// dedupeEvents keeps the first event of each type.
func dedupeEvents(events []domain.ProactiveEvent) []domain.ProactiveEvent {
	seen := make(map[string]bool, len(events))
	var out []domain.ProactiveEvent
	for _, ev := range events {
		if seen[ev.EventType] {
			continue
		}
		seen[ev.EventType] = true
		out = append(out, ev)
	}
	return out
}

// recentHistory converts the last n user/assistant turns, oldest first.
func recentHistory(history []domain.ChatTurn, n int) []llm.Message {
	var turns []domain.ChatTurn
	for _, t := range history {
		if (t.Role == domain.RoleUser || t.Role == domain.RoleAssistant) && strings.TrimSpace(t.Content) != "" {
			turns = append(turns, t)
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// userProfile returns the user's profile, or nil when unavailable.
func userProfile(ctx context.Context, s store.Store, userID string, logger *slog.Logger) *domain.UserProfile {
	if s == nil {
		return nil
	}
	var profiles []domain.UserProfile
	if err := s.FindByUser(ctx, store.UserProfiles, userID, store.Query{Limit: 1}, &profiles); err != nil {
		logger.Warn("Failed to load user profile", "user_id", userID, "error", err)
		return nil
	}
	if len(profiles) == 0 {
		return nil
	}
	return &profiles[0]
}
