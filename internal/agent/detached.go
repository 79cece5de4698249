package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// detached runs best-effort background writes. Failures are logged and
// never retried.
type detached struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *slog.Logger
}

func newDetached(timeout time.Duration, logger *slog.Logger) *detached {
	return &detached{timeout: timeout, logger: logger}
}

// Go runs fn in its own goroutine with a fresh deadline derived from a
// context that outlives the caller.
func (d *detached) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("Background task panicked", "task", name, "panic", rec, "stack", string(debug.Stack()))
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("Background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until every task started so far has finished.
func (d *detached) Wait() {
	d.wg.Wait()
}
