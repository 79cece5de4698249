// Package tools defines the operations the agent may invoke and the
// registry that validates and dispatches them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/ashureev/portal-agent/internal/llm"
)

// Kind classifies a tool's side effects.
type Kind int

const (
	// KindRead tools only read records.
	KindRead Kind = iota
	// KindMutate tools change records without opening a follow-up ticket.
	KindMutate
	// KindTicketed tools change records and open an agent_action ticket.
	KindTicketed
)

// ExecuteFunc runs a tool with already-validated parameters.
type ExecuteFunc func(ctx context.Context, params map[string]any) Result

// Middleware wraps tool execution.
type Middleware func(ExecuteFunc) ExecuteFunc

// Tool is a named, schema-validated operation.
type Tool struct {
	Name        string
	Description string
	Parameters  Schema
	Kind        Kind
	// Service is recorded as last_seen_service when the tool succeeds.
	Service string
	// TicketTitle titles the follow-up ticket of a ticketed tool.
	TicketTitle string
	Execute     ExecuteFunc
}

// Registry is an immutable set of tools. Middleware returns a new Registry
// and leaves the receiver untouched, so one canonical registry can be shared.
type Registry struct {
	tools      map[string]*Tool
	middleware []Middleware
	logger     *slog.Logger
}

// NewRegistry creates a registry from the given tools.
func NewRegistry(logger *slog.Logger, tools ...*Tool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{tools: make(map[string]*Tool, len(tools)), logger: logger}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return r
}

// With returns a registry whose every execution passes through mw.
func (r *Registry) With(mw Middleware) *Registry {
	chain := make([]Middleware, 0, len(r.middleware)+1)
	chain = append(chain, r.middleware...)
	chain = append(chain, mw)
	return &Registry{tools: r.tools, middleware: chain, logger: r.logger}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool catalogue for the model.
func (r *Registry) Definitions() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters.JSONSchema(),
		})
	}
	return defs
}

// Execute runs the named tool. Middleware sees the raw parameters before
// validation, so injected values count toward required fields.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) Result {
	t, ok := r.tools[name]
	if !ok {
		err := &ErrToolUnavailable{ToolName: name}
		return Fail(ErrCodeUnavailable, err.Error())
	}
	if params == nil {
		params = map[string]any{}
	}

	call := r.validated(t)
	for i := len(r.middleware) - 1; i >= 0; i-- {
		call = r.middleware[i](call)
	}
	return call(ctx, params)
}

func (r *Registry) validated(t *Tool) ExecuteFunc {
	return func(ctx context.Context, params map[string]any) (res Result) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Tool panicked", "tool", t.Name, "panic", rec, "stack", string(debug.Stack()))
				res = Fail(ErrCodeUpstream, msgUpstream)
			}
		}()

		if err := t.Parameters.Validate(params); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return Fail(ErrCodeValidation, ve.Message())
			}
			return Fail(ErrCodeValidation, fmt.Sprint(err))
		}
		return t.Execute(ctx, params)
	}
}
