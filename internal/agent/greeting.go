package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/llm"
)

// Greeting is the opening message shown when the chat is opened.
type Greeting struct {
	Text        string                  `json:"text"`
	Events      []domain.ProactiveEvent `json:"events"`
	Prediction  *domain.Prediction      `json:"prediction,omitempty"`
	Suggestions []string                `json:"suggestions"`
}

// Greeter writes a personalized greeting from the same signals a turn uses.
type Greeter struct {
	deps Deps
	cfg  Config
}

// NewGreeter creates a Greeter.
func NewGreeter(d Deps, cfg Config) *Greeter {
	return &Greeter{deps: d.withDefaults(), cfg: cfg.withDefaults()}
}

// languageArabic is the preferred_language value of Arabic speakers.
const languageArabic = "ar"

const greetingInstruction = "The user just opened the chat. Greet them in one or two sentences in Arabic " +
	"and English, then mention the items that need attention, if any."

// Greet returns the greeting for userID. When the model is unavailable a
// templated greeting is returned instead.
func (g *Greeter) Greet(ctx context.Context, userID string) (*Greeting, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	tc := assemble(ctx, g.deps, Request{UserID: userID, Message: greetingInstruction})
	events := dedupeEvents(tc.entry.Events)
	greeting := &Greeting{
		Events:      events,
		Prediction:  tc.entry.TopPrediction(),
		Suggestions: suggestions(tc.entry, tc.language == languageArabic),
	}
	if greeting.Events == nil {
		greeting.Events = []domain.ProactiveEvent{}
	}

	if g.deps.LLM != nil {
		resp, err := g.deps.LLM.Chat(ctx, llm.Request{Messages: tc.messages, Temperature: g.cfg.Temperature})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			greeting.Text = strings.TrimSpace(resp.Content)
			return greeting, nil
		}
		if err != nil {
			g.deps.Logger.Warn("Greeting model request failed", "user_id", userID, "error", err)
		}
	}

	greeting.Text = templateGreeting(tc.name, events)
	return greeting, nil
}

func templateGreeting(name string, events []domain.ProactiveEvent) string {
	var sb strings.Builder
	if name != "" {
		fmt.Fprintf(&sb, "أهلاً %s! / Hello %s!", name, name)
	} else {
		sb.WriteString("أهلاً بك! / Welcome!")
	}
	sb.WriteString(" كيف يمكنني مساعدتك اليوم؟ / How can I help you today?")
	for _, ev := range events {
		if s, ok := eventSuggestions[ev.EventType]; ok {
			fmt.Fprintf(&sb, "\n- %s / %s", s[1], s[0])
		}
	}
	return sb.String()
}
