package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNoConnection is returned when the user has no open notification socket.
var ErrNoConnection = errors.New("no active notification connection")

const writeTimeout = 5 * time.Second

// Hub tracks notification websockets per user and pushes to them.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewHub creates a new hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register adds a connection for a user.
func (h *Hub) Register(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}
	h.active[userID][connID] = conn
	h.logger.Info("Notification socket registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (h *Hub) Unregister(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[userID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.active, userID)
			}
			h.logger.Info("Notification socket unregistered", "user_id", userID, "conn_id", connID)
		}
	}
}

// Connections returns the number of open sockets for a user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// Dispatch writes n to every socket the user has open. Writes happen
// outside the lock.
func (h *Hub) Dispatch(ctx context.Context, n Notification) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[n.UserID]))
	for _, c := range h.active[n.UserID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoConnection
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	var failed int
	for _, c := range conns {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		if err := c.Write(wctx, websocket.MessageText, payload); err != nil {
			failed++
			h.logger.Debug("Notification socket write failed", "user_id", n.UserID, "error", err)
		}
		cancel()
	}
	if failed == len(conns) {
		return fmt.Errorf("notification not delivered to any of %d sockets", failed)
	}
	return nil
}

// Close closes every open socket. Called on shutdown because the HTTP
// server does not track hijacked connections.
func (h *Hub) Close() {
	h.mu.RLock()
	users := make([]string, 0, len(h.active))
	for userID := range h.active {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	for _, userID := range users {
		h.CloseUser(userID)
	}
}

// CloseUser closes all sockets for a user. The close handshakes run
// outside the lock so the sockets' read loops can unregister.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	conns := h.active[userID]
	delete(h.active, userID)
	h.mu.Unlock()

	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
		h.logger.Info("Notification socket closed", "user_id", userID, "conn_id", id)
	}
}
