// Package proactive detects situations that need the user's attention and
// predicts their next need, caching both per user.
package proactive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/portal-agent/internal/domain"
)

// DefaultCacheTTL is how long a computed context stays fresh.
const DefaultCacheTTL = 15 * time.Minute

// Entry is one user's cached proactive context.
type Entry struct {
	UserID      string
	Events      []domain.ProactiveEvent
	Predictions []domain.Prediction
	Timestamp   time.Time
}

// TopPrediction returns the first prediction, if any.
func (e Entry) TopPrediction() *domain.Prediction {
	if len(e.Predictions) == 0 {
		return nil
	}
	p := e.Predictions[0]
	return &p
}

// Cache is a per-process, per-user memo of proactive context. Tools do not
// invalidate it, so a handled event may still show as pending until the
// entry expires.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock overrides the cache clock.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{entries: make(map[string]Entry), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the user's entry. An expired entry is deleted and reported
// as absent.
func (c *Cache) Get(userID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(e.Timestamp) > c.ttl {
		delete(c.entries, userID)
		return Entry{}, false
	}
	return e, true
}

// Set overwrites the user's entry, stamped with the current time.
func (c *Cache) Set(userID string, events []domain.ProactiveEvent, predictions []domain.Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[userID] = Entry{
		UserID:      userID,
		Events:      events,
		Predictions: predictions,
		Timestamp:   c.now(),
	}
}

// Delete removes the user's entry.
func (c *Cache) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Sweep deletes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.Timestamp) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// DefaultSweepInterval is the period of the background sweep.
const DefaultSweepInterval = 10 * time.Minute

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Proactive cache sweeper started", "interval", interval, "ttl", c.ttl)

		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					slog.Debug("Proactive cache sweep", "evicted", n, "remaining", c.Len())
				}
			case <-ctx.Done():
				slog.Info("Proactive cache sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
