package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerConfig tunes the HTTP layer.
type HandlerConfig struct {
	RateLimit         int
	RateWindow        time.Duration
	KeepaliveInterval time.Duration
	GreetingTimeout   time.Duration
}

// Handler serves the chat, greeting and feedback endpoints.
type Handler struct {
	service     *Service
	greeter     *Greeter
	actions     *actionlog.Logger
	rateLimiter *RateLimiter
	cfg         HandlerConfig
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(service *Service, greeter *Greeter, actions *actionlog.Logger, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.GreetingTimeout <= 0 {
		cfg.GreetingTimeout = 20 * time.Second
	}
	return &Handler{
		service:     service,
		greeter:     greeter,
		actions:     actions,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes registers agent routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/greeting", h.HandleGreeting)
		r.Post("/feedback", h.HandleFeedback)
	})
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

type streamItem struct {
	chunk *Chunk
	err   error
}

// HandleChat handles POST /api/agent/chat. The reply is streamed as SSE.
// Headers are held back until the first chunk so that a turn failing before
// any output is answered with a plain 502.
//
//nolint:gocyclo // Validation and streaming branches are kept inline to preserve request flow.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	// Rate-limit by userID so clients cannot bypass throttling with new tabs.
	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}
	req.UserID = userID

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	logger := h.logger.With("user_id", userID, "request_id", chiMiddleware.GetReqID(r.Context()),
		"client_ip", identity.IPFromRequest(r))
	logger.Info("Agent chat request", "message_length", len(req.Message), "history_turns", len(req.History))

	// The turn runs on its own goroutine so keepalives can be written while
	// the model is busy. Leaving this handler stops delivery, not the turn.
	items := make(chan streamItem)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(items)
		for chunk, err := range h.service.Chat(r.Context(), req) {
			select {
			case items <- streamItem{chunk: chunk, err: err}:
			case <-done:
				return
			}
		}
	}()

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	started := false
	for {
		select {
		case <-r.Context().Done():
			logger.Info("Agent chat client disconnected")
			return

		case <-keepalive.C:
			if !started {
				continue
			}
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				logger.Warn("failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()

		case item, ok := <-items:
			if !ok {
				return
			}
			if item.err != nil {
				if !started {
					http.Error(w, `{"error": "assistant unavailable"}`, http.StatusBadGateway)
					return
				}
				logger.Error("Agent stream failed", "error", item.err)
				_ = writeSSEJSON(w, "error", map[string]string{"error": "stream interrupted"})
				flusher.Flush()
				return
			}

			if !started {
				started = true
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				w.WriteHeader(http.StatusOK)
			}
			if err := h.writeChunk(w, item.chunk); err != nil {
				logger.Warn("failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) writeChunk(w io.Writer, c *Chunk) error {
	if c == nil {
		return nil
	}
	if !c.Done {
		return writeSSEJSON(w, "message", map[string]string{"text": c.Text})
	}
	tools := c.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	if c.Fallback {
		suggestions := c.Suggestions
		if suggestions == nil {
			suggestions = []string{}
		}
		if err := writeSSEJSON(w, "meta", map[string]any{"tools_used": tools, "suggestions": suggestions}); err != nil {
			return err
		}
	}
	return writeSSEJSON(w, "done", map[string]any{"tools_used": tools})
}

// HandleGreeting handles GET /api/agent/greeting.
func (h *Handler) HandleGreeting(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.GreetingTimeout)
	defer cancel()
	g, err := h.greeter.Greet(ctx, userID)
	if err != nil {
		h.logger.Error("Greeting failed", "user_id", userID, "error", err)
		http.Error(w, `{"error": "greeting unavailable"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type feedbackRequest struct {
	Helpful   *bool  `json:"helpful"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	MessageID string `json:"message_id"`
}

// HandleFeedback handles POST /api/agent/feedback.
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Helpful == nil {
		http.Error(w, `{"error": "helpful is required"}`, http.StatusBadRequest)
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		http.Error(w, `{"error": "rating must be between 0 and 5"}`, http.StatusBadRequest)
		return
	}

	fb := &domain.AgentFeedback{
		UserID:    userID,
		Helpful:   *req.Helpful,
		Rating:    req.Rating,
		Comment:   req.Comment,
		MessageID: req.MessageID,
	}
	if err := h.actions.RecordFeedback(r.Context(), fb); err != nil {
		h.logger.Error("Failed to record feedback", "user_id", userID, "error", err)
		http.Error(w, `{"error": "failed to record feedback"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

// RateLimiter implements a per-user sliding-window rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow records a request for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.recent(key, now)
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

func (r *RateLimiter) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	var out []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Close stops the eviction goroutine.
func (r *RateLimiter) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// evictLoop periodically drops keys with no requests inside the window.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			now := r.now()
			for key := range r.requests {
				if fresh := r.recent(key, now); len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return writeSSE(w, event, string(data))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
