package ws

import (
	"encoding/json"
)

// Wire-level event names handled by the transport itself. Engine-emitted
// event names live in the engine package.
const (
	eventConnected = "connected"
	eventError     = "error"

	eventRegisterAgent   = "register_agent"
	eventAgentOffline    = "agent_offline"
	eventRequestLiveChat = "request_live_chat"
	eventRestoreChats    = "restore_chats"
	eventSendMessage     = "send_message"
	eventEndChat         = "end_chat"
)

// envelope is the frame every websocket message travels in.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type connectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type registerAgentPayload struct {
	Domain     string `json:"domain"`
	OldAgentID string `json:"old_agent_id,omitempty"`
	AgentName  string `json:"agent_name"`
}

type agentOfflinePayload struct {
	AgentConnectionID string `json:"agent_connection_id"`
}

type requestLiveChatPayload struct {
	Domain    string `json:"domain"`
	OldUserID string `json:"old_user_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

type restoreChatsPayload struct {
	AgentConnectionID string `json:"agent_connection_id"`
}

type sendMessagePayload struct {
	PersistentID string `json:"persistent_id,omitempty"`
	RecipientID  string `json:"recipient_id"`
	Message      string `json:"message"`
	Image        string `json:"image,omitempty"`
}

type endChatPayload struct {
	UserConnectionID string `json:"user_connection_id"`
}
