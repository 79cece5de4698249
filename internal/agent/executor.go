package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/llm"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/store"
	"github.com/ashureev/portal-agent/internal/tools"
)

// Executor drives the model through a bounded tool-calling loop.
type Executor struct {
	deps  Deps
	cfg   Config
	tasks *detached
}

// NewExecutor creates an Executor.
func NewExecutor(d Deps, cfg Config) *Executor {
	d = d.withDefaults()
	cfg = cfg.withDefaults()
	return &Executor{
		deps:  d,
		cfg:   cfg,
		tasks: newDetached(cfg.BookkeepTimeout, d.Logger),
	}
}

// Execute runs one turn and streams the reply. If the turn fails before
// any text was produced or any tool ran, the sequence yields a single
// error. A later failure ends the turn with what it has. Stopping the
// iteration early does not cancel the turn; it runs to completion and is
// recorded like any other.
func (e *Executor) Execute(ctx context.Context, req Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		ctx := context.WithoutCancel(ctx)
		logger := e.deps.Logger.With("user_id", req.UserID)

		tc := assemble(ctx, e.deps, req)
		reg := tools.WithIdentity(e.deps.Registry, req.UserID)
		defs := reg.Definitions()
		msgs := tc.messages

		var reply strings.Builder
		var used []string
		var runs []toolRun
		streamed, gone := false, false
		onToken := func(tok string) {
			if tok == "" {
				return
			}
			reply.WriteString(tok)
			streamed = true
			if gone {
				return
			}
			if !yield(&Chunk{Text: tok}, nil) {
				gone = true
			}
		}

		for step := 1; step <= e.cfg.MaxSteps; step++ {
			resp, err := e.deps.LLM.ChatStream(ctx, llm.Request{
				Messages:    msgs,
				Tools:       defs,
				Temperature: e.cfg.Temperature,
			}, onToken)
			if err != nil {
				// Once a tool has run the turn is committed: retrying it
				// elsewhere would repeat the mutation.
				if !streamed && len(used) == 0 {
					logger.Error("Agent turn failed", "step", step, "error", err)
					if !gone {
						yield(nil, fmt.Errorf("model request: %w", err))
					}
					return
				}
				logger.Warn("Model stream ended early", "step", step, "tools_used", used, "error", err)
				break
			}
			if len(resp.ToolCalls) == 0 {
				break
			}

			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
			for _, call := range resp.ToolCalls {
				res := runToolCall(ctx, reg, call)
				logger.Info("Tool executed", "step", step, "tool", call.Name, "success", res.Success, "error_code", res.Error)
				used = appendUnique(used, call.Name)
				runs = append(runs, toolRun{name: call.Name, result: res})
				msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: res.JSON(), ToolCallID: call.ID})
			}
			if step == e.cfg.MaxSteps {
				logger.Warn("Agent step budget exhausted", "max_steps", e.cfg.MaxSteps)
			}
		}

		// Tools ran but the model never answered: report their results.
		if reply.Len() == 0 && len(runs) > 0 {
			onToken(templated(runs, isArabic(req.Message)))
		}
		if !gone {
			yield(&Chunk{Done: true, ToolsUsed: used}, nil)
		}
		recordTurn(ctx, e.tasks, e.deps, req, reply.String(), used, IntentForTools(used), tc.entry, actionlog.ActionAgentTurn)
	}
}

// Wait blocks until the bookkeeping of every finished turn is written.
func (e *Executor) Wait() {
	e.tasks.Wait()
}

func runToolCall(ctx context.Context, reg *tools.Registry, call llm.ToolCall) tools.Result {
	params := map[string]any{}
	if args := strings.TrimSpace(call.Arguments); args != "" {
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return tools.Fail(tools.ErrCodeValidation, "arguments must be a JSON object")
		}
	}
	return reg.Execute(ctx, call.Name, params)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// recordTurn spawns the post-turn writes. Each one is independent of the
// others.
func recordTurn(ctx context.Context, tasks *detached, d Deps, req Request, reply string, used []string, intent string, entry proactive.Entry, actionType string) {
	userID := req.UserID

	tasks.Go(ctx, "save user message", func(ctx context.Context) error {
		return d.Store.Insert(ctx, store.Conversations, &domain.Conversation{
			UserID:  userID,
			Role:    domain.RoleUser,
			Content: req.Message,
		})
	})
	tasks.Go(ctx, "save assistant message", func(ctx context.Context) error {
		return d.Store.Insert(ctx, store.Conversations, &domain.Conversation{
			UserID:    userID,
			Role:      domain.RoleAssistant,
			Content:   reply,
			ToolsUsed: used,
		})
	})
	tasks.Go(ctx, "update behavior", func(ctx context.Context) error {
		u := actionlog.BehaviorUpdate{
			LastMessage: req.Message,
			Intent:      intent,
		}
		if p := entry.TopPrediction(); p != nil {
			u.Prediction = p
			u.PredictedNeed = p.PredictedNeed
		}
		return d.Actions.UpdateBehavior(ctx, userID, u)
	})
	tasks.Go(ctx, "log turn", func(ctx context.Context) error {
		return d.Actions.Log(ctx, userID, actionType,
			map[string]any{"message": req.Message, "history_turns": len(req.History)},
			map[string]any{"reply": reply, "tools_used": used},
		)
	})
}
