package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/livedesk/internal/engine"
	"github.com/ashureev/livedesk/internal/identity"
	"github.com/coder/websocket"
)

// Handler upgrades HTTP requests to websocket connections and dispatches
// chat events to the routing engine.
type Handler struct {
	engine        *engine.Engine
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new websocket handler.
func NewHandler(eng *engine.Engine, hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		engine:        eng,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}

	connID := identity.NewConnectionID()
	slog.Info("WebSocket connected", "connection_id", connID, "ip", r.RemoteAddr)

	h.hub.Register(connID, conn)
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "connection_id", connID)
		}
	}()

	if err := h.hub.Notify(r.Context(), connID, eventConnected, connectedPayload{ConnectionID: connID}); err != nil {
		slog.Warn("Failed to send connection handshake", "connection_id", connID, "error", err)
	}

	// peerID is the identity the engine knows this connection by. It
	// starts as the transport ID and may be replaced once the peer
	// registers or resumes with a prior identity.
	peerID := h.readLoop(r.Context(), conn, connID)

	// The request context dies with the socket; teardown still has to
	// reach the store and the counterpart.
	dctx := context.WithoutCancel(r.Context())
	h.hub.Unregister(connID, conn)
	if peerID != connID {
		h.hub.Unregister(peerID, conn)
	}
	h.engine.HandleDisconnect(dctx, peerID)
	slog.Info("WebSocket disconnected", "connection_id", connID, "peer_id", peerID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop decodes inbound envelopes until the connection drops and
// returns the peer's final identity. A failure handling one event is
// reported to this connection only and never ends the loop.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, connID string) string {
	peerID := connID
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "connection_id", connID)
			} else {
				slog.Debug("WebSocket read ended", "connection_id", connID, "error", err)
			}
			return peerID
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Malformed event frame", "connection_id", connID, "error", err)
			h.sendError(ctx, conn, "malformed event")
			continue
		}

		peerID = h.dispatch(ctx, conn, connID, peerID, env)
	}
}

//nolint:gocognit // Event dispatch is a flat switch over the protocol surface.
func (h *Handler) dispatch(ctx context.Context, conn *websocket.Conn, connID, peerID string, env envelope) string {
	switch env.Event {
	case eventRegisterAgent:
		var p registerAgentPayload
		if !h.decode(ctx, conn, env.Data, &p) {
			return peerID
		}
		// The agent is addressed by its resolved identity from here on;
		// route it to this connection before the engine starts emitting.
		agentID := connID
		if resumed := identity.SanitizeResumeID(p.OldAgentID); resumed != "" {
			agentID = resumed
		}
		h.hub.Register(agentID, conn)
		id, err := h.engine.RegisterAgent(ctx, connID, p.Domain, p.AgentName, identity.SanitizeResumeID(p.OldAgentID))
		if err != nil {
			if agentID != connID {
				h.hub.Unregister(agentID, conn)
			}
			msg := "Failed to register agent"
			if errors.Is(err, engine.ErrDomainRequired) {
				msg = "Domain is required to register as an agent"
			}
			h.sendError(ctx, conn, msg)
			slog.Warn("register_agent failed", "connection_id", connID, "error", err)
			return peerID
		}
		return id

	case eventAgentOffline:
		var p agentOfflinePayload
		if !h.decode(ctx, conn, env.Data, &p) {
			return peerID
		}
		agentID := p.AgentConnectionID
		if agentID == "" {
			agentID = peerID
		}
		h.engine.SetAgentOffline(ctx, agentID)
		return peerID

	case eventRequestLiveChat:
		var p requestLiveChatPayload
		if !h.decode(ctx, conn, env.Data, &p) {
			return peerID
		}
		resumeID := identity.SanitizeResumeID(p.OldUserID)
		userID := connID
		if resumeID != "" {
			userID = resumeID
		}
		h.hub.Register(userID, conn)
		err := h.engine.RequestChat(ctx, connID, engine.ChatRequest{
			Domain:   p.Domain,
			UserID:   p.UserID,
			UserName: p.UserName,
			ResumeID: resumeID,
		})
		if err != nil {
			h.sendError(ctx, conn, "Failed to start live chat")
			slog.Warn("request_live_chat failed", "connection_id", connID, "error", err)
			return peerID
		}
		return userID

	case eventRestoreChats:
		var p restoreChatsPayload
		if !h.decode(ctx, conn, env.Data, &p) {
			return peerID
		}
		if p.AgentConnectionID == "" {
			return peerID
		}
		h.hub.Register(p.AgentConnectionID, conn)
		if _, err := h.engine.RestoreChats(ctx, p.AgentConnectionID); err != nil {
			h.sendError(ctx, conn, "Failed to restore chats")
			slog.Warn("restore_chats failed", "agent_id", p.AgentConnectionID, "error", err)
			return peerID
		}
		return p.AgentConnectionID

	case eventSendMessage:
		var p sendMessagePayload
		if !h.decode(ctx, conn, env.Data, &p) {
			return peerID
		}
		sender := p.PersistentID
		if sender == "" {
			sender = peerID
		}
		if err := h.engine.Relay(ctx, sender, p.RecipientID, p.Message, p.Image); err != nil {
			h.sendError(ctx, conn, "Failed to send message")
			slog.Warn("send_message failed", "sender", sender, "error", err)
		}
		return peerID

	case eventEndChat:
		var p endChatPayload
		if !h.decode(ctx, conn, env.Data, &p) {
			return peerID
		}
		userID := p.UserConnectionID
		if userID == "" {
			userID = peerID
		}
		if err := h.engine.EndChat(ctx, userID); err != nil {
			h.sendError(ctx, conn, "Failed to end chat")
			slog.Warn("end_chat failed", "user_id", userID, "error", err)
		}
		return peerID

	default:
		slog.Debug("Unknown event ignored", "event", env.Event, "connection_id", connID)
		return peerID
	}
}

func (h *Handler) decode(ctx context.Context, conn *websocket.Conn, data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		h.sendError(ctx, conn, "malformed event payload")
		return false
	}
	return true
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, message string) {
	c := &peerConn{ws: conn}
	if err := c.writeJSON(ctx, outEnvelope{Event: eventError, Data: errorPayload{Message: message}}); err != nil {
		slog.Debug("Failed to send error event", "error", err)
	}
}
