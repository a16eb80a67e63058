// Package ws provides the WebSocket transport for the routing engine:
// connection registry, event decoding, and notification fan-out.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// peerConn wraps a websocket connection with a write lock so concurrent
// notifications to the same peer do not interleave frames.
type peerConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *peerConn) writeJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

// Hub is the registry of live connections keyed by opaque identity. A
// connection can be reachable under several identities at once (the
// transport-assigned connection ID plus a resumed agent or user identity),
// mirroring the original room-per-identity fan-out. Hub implements the
// engine's Notifier.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*peerConn
}

// NewHub creates an empty connection registry.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*peerConn)}
}

// Register makes ws reachable under id. A different connection already
// holding the identity is closed: the newest transport wins on reconnect.
func (h *Hub) Register(id string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.conns[id]; ok && existing.ws != ws {
		_ = existing.ws.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.conns[id] = &peerConn{ws: ws}
	slog.Debug("Connection registered", "id", id)
}

// Unregister removes the identity if it still points at ws.
func (h *Hub) Unregister(id string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.conns[id]; ok && current.ws == ws {
		delete(h.conns, id)
		slog.Debug("Connection unregistered", "id", id)
	}
}

// Connected reports whether the identity has a live connection.
func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// Notify sends one event to the identity's connection. Implements
// engine.Notifier.
func (h *Hub) Notify(ctx context.Context, target string, event string, payload interface{}) error {
	h.mu.RLock()
	c, ok := h.conns[target]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no live connection for %s", target)
	}
	return c.writeJSON(ctx, outEnvelope{Event: event, Data: payload})
}

// Broadcast sends an event to every live connection. Implements
// engine.Notifier. Write failures are logged per connection; a slow or
// dead peer never fails the others.
func (h *Hub) Broadcast(ctx context.Context, event string, payload interface{}) {
	// An identity-resumed peer is registered under two IDs; dedupe by the
	// underlying transport so it hears the event once.
	h.mu.RLock()
	targets := make(map[*websocket.Conn]*peerConn, len(h.conns))
	for _, c := range h.conns {
		targets[c.ws] = c
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.writeJSON(ctx, outEnvelope{Event: event, Data: payload}); err != nil {
			slog.Debug("Broadcast write failed", "event", event, "error", err)
		}
	}
}
