package engine

import (
	"context"

	"github.com/ashureev/livedesk/internal/domain"
)

// Event names emitted by the engine. The transport fans them out to the
// target connections.
const (
	EventAgentStatus         = "agent_status"
	EventLiveChatConnected   = "live_chat_connected"
	EventLiveChatReconnected = "live_chat_reconnected"
	EventNewLiveChat         = "new_live_chat"
	EventUserReconnected     = "user_reconnected"
	EventNoAgentsAvailable   = "no_agents_available"
	EventRestoreActiveChats  = "restore_active_chats"
	EventReceiveMessage      = "receive_message"
	EventChatEnded           = "chat_ended"
)

// Notifier delivers engine events to live connections. The engine calls it
// synchronously after the corresponding durable write has committed, so
// observers never see a state change that was not recorded. Delivery to a
// connection that is no longer live is not an error.
type Notifier interface {
	// Notify sends an event to one connection.
	Notify(ctx context.Context, target string, event string, payload interface{}) error

	// Broadcast sends an event to every live connection.
	Broadcast(ctx context.Context, event string, payload interface{})
}

// AgentStatusPayload is broadcast whenever an agent's presence changes.
type AgentStatusPayload struct {
	AgentConnectionID string             `json:"agent_connection_id"`
	Status            domain.AgentStatus `json:"status"`
}

// ChatConnectedPayload is sent to the user on assignment or resumption.
type ChatConnectedPayload struct {
	AgentConnectionID string           `json:"agent_connection_id"`
	AgentName         string           `json:"agent_name"`
	UserConnectionID  string           `json:"user_connection_id"`
	Messages          []domain.Message `json:"messages"`
}

// NewChatPayload is sent to the agent when a user is assigned or returns.
type NewChatPayload struct {
	UserConnectionID string `json:"user_connection_id"`
	UserName         string `json:"user_name,omitempty"`
}

// NoAgentsPayload is sent to the user when no assignment is possible.
type NoAgentsPayload struct {
	Message string `json:"message"`
}

// ReceiveMessagePayload carries one relayed message to its recipient.
type ReceiveMessagePayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
}

// ChatEndedPayload is sent to both parties when a session is torn down.
type ChatEndedPayload struct {
	PartnerID string `json:"partner_id"`
}

// RestoredChat is one entry of a restore_active_chats payload.
type RestoredChat struct {
	Messages []domain.Message `json:"messages"`
	UserName string           `json:"userName"`
}

// outbound is a notification staged under the engine lock and delivered
// after the critical section ends.
type outbound struct {
	target  string // empty target means broadcast
	event   string
	payload interface{}
}

func (e *Engine) deliver(ctx context.Context, msgs []outbound) {
	for _, m := range msgs {
		if m.target == "" {
			e.notifier.Broadcast(ctx, m.event, m.payload)
			continue
		}
		if err := e.notifier.Notify(ctx, m.target, m.event, m.payload); err != nil {
			// The target's connection may have dropped between commit and
			// delivery; recovery paths replay state on reconnect.
			logNotifyFailure(m.target, m.event, err)
		}
	}
}
