package agent

import (
	"context"
	"errors"
	"iter"
	"log/slog"
)

// ErrNoPath is returned when neither the executor nor the fallback is configured.
var ErrNoPath = errors.New("no chat path configured")

// Service picks the path for each turn: the autonomous executor, or the
// rule-based fallback when autonomous mode is off or the executor fails
// before replying.
type Service struct {
	executor   *Executor
	fallback   *Fallback
	autonomous bool
	logger     *slog.Logger
}

// NewService creates a Service. fallback may be nil, in which case hard
// executor failures reach the caller.
func NewService(executor *Executor, fallback *Fallback, autonomous bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{executor: executor, fallback: fallback, autonomous: autonomous, logger: logger}
}

// Chat processes a user message and returns response chunks.
func (s *Service) Chat(ctx context.Context, req Request) iter.Seq2[*Chunk, error] {
	if !s.autonomous || s.executor == nil {
		return s.fallbackChunks(ctx, req)
	}
	if s.fallback == nil {
		return s.executor.Execute(ctx, req)
	}

	return func(yield func(*Chunk, error) bool) {
		first := true
		for chunk, err := range s.executor.Execute(ctx, req) {
			if err != nil && first {
				s.logger.Warn("Autonomous turn failed, using fallback", "user_id", req.UserID, "error", err)
				for c, ferr := range s.fallbackChunks(ctx, req) {
					if !yield(c, ferr) {
						return
					}
				}
				return
			}
			first = false
			if !yield(chunk, err) {
				return
			}
		}
	}
}

func (s *Service) fallbackChunks(ctx context.Context, req Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		if s.fallback == nil {
			yield(nil, ErrNoPath)
			return
		}
		reply := s.fallback.Execute(ctx, req)
		if !yield(&Chunk{Text: reply.Text}, nil) {
			return
		}
		yield(&Chunk{
			Done:        true,
			ToolsUsed:   reply.ToolsUsed,
			Suggestions: reply.Suggestions,
			Fallback:    true,
		}, nil)
	}
}

// Wait blocks until background writes of finished turns are done.
func (s *Service) Wait() {
	if s.executor != nil {
		s.executor.Wait()
	}
	if s.fallback != nil {
		s.fallback.Wait()
	}
}
