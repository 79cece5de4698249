// Package llm provides the model client used by the agent.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat message sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a tool invocation requested by the model. Arguments is the
// raw JSON object the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef advertises one tool to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single completion request. Tools may be empty for plain
// completions.
type Request struct {
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
}

// Response is the model's answer for one request.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// TokenFunc receives streamed text tokens.
type TokenFunc func(token string)

// Client is the interface model providers implement.
type Client interface {
	// Chat sends a completion request and returns the full response.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream sends a streaming request. Text tokens are passed to onToken
	// as they arrive; the assembled response is returned at the end.
	ChatStream(ctx context.Context, req Request, onToken TokenFunc) (*Response, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
