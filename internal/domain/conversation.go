package domain

import (
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one caller-supplied history entry. It is never persisted as-is.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is a persisted chat message.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActionLogEntry is an append-only audit record of one agent action.
type ActionLogEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ActionType string    `json:"action_type"`
	Input      any       `json:"input,omitempty"`
	Output     any       `json:"output,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
