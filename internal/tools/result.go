package tools

import (
	"encoding/json"
	"fmt"
)

// Error codes carried in Result.Error.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeNotFound    = "not_found"
	ErrCodeUpstream    = "upstream_error"
	ErrCodeUnavailable = "tool_unavailable"
)

// Result is the envelope every tool returns. Tools never return Go errors
// or panic across the registry boundary.
type Result struct {
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	TicketNumber string `json:"ticket_number,omitempty"`
	// Summary is the one-line description used for the follow-up ticket.
	Summary string `json:"-"`
}

// OK builds a successful result.
func OK(data any, message string) Result {
	return Result{Success: true, Data: data, Message: message}
}

// Fail builds a failed result.
func Fail(code, message string) Result {
	return Result{Success: false, Error: code, Message: message}
}

// JSON renders the result for a tool message.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, ErrCodeUpstream)
	}
	return string(b)
}

// ErrToolUnavailable is returned when a call targets a tool that is not in
// the registry. Callers should not retry it.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
