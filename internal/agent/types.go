// Package agent runs chat turns for the citizen-services portal: the
// autonomous tool-calling executor, the rule-based fallback and the
// personalized greeting.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/llm"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/store"
	"github.com/ashureev/portal-agent/internal/tools"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultMaxSteps    = 5
	DefaultTemperature = 0.2
	historyTurns       = 5
)

// Request is one chat turn.
type Request struct {
	Message string            `json:"message"`
	UserID  string            `json:"-"`
	History []domain.ChatTurn `json:"history,omitempty"`
}

// Chunk is one element of a streamed reply. The final chunk has Done set.
type Chunk struct {
	Text        string   `json:"text,omitempty"`
	Done        bool     `json:"done,omitempty"`
	ToolsUsed   []string `json:"tools_used,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Fallback    bool     `json:"fallback,omitempty"`
}

// Reply is the complete answer produced by the fallback path.
type Reply struct {
	Text        string   `json:"text"`
	Intent      string   `json:"intent"`
	ToolsUsed   []string `json:"tools_used"`
	Suggestions []string `json:"suggestions"`
	Tier        string   `json:"tier"`
}

// ContextProvider supplies the proactive context for a user.
type ContextProvider interface {
	Context(ctx context.Context, userID string) proactive.Entry
}

// Config tunes the model loop.
type Config struct {
	MaxSteps        int
	Temperature     float64
	BookkeepTimeout time.Duration
}

// Deps are the collaborators shared by the executor, fallback and greeter.
type Deps struct {
	LLM       llm.Client
	Registry  *tools.Registry
	Proactive ContextProvider
	Store     store.Store
	Actions   *actionlog.Logger
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Actions == nil && d.Store != nil {
		d.Actions = actionlog.New(d.Store, d.Logger)
	}
	return d
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 1 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.BookkeepTimeout <= 0 {
		c.BookkeepTimeout = 10 * time.Second
	}
	return c
}
