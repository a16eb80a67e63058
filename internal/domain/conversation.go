package domain

import (
	"time"
)

// Role identifies which side of a conversation sent a message. Connections
// are tagged with a role when they register or request a chat, so the relay
// does not have to infer it from registry membership.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single immutable transcript entry. Transcripts are
// append-only; messages are never removed or reordered.
type Message struct {
	SentAt time.Time `json:"timestamp"`
	Sender Role      `json:"sender"`
	Body   string    `json:"message"`
	Image  string    `json:"image,omitempty"`
}

// Conversation is the durable, resumable chat between one user and one
// agent. It is keyed by the user's connection ID: a user has at most one
// active conversation at a time.
type Conversation struct {
	UserConnectionID  string    `json:"user_connection_id"`
	AgentConnectionID string    `json:"agent_connection_id"`
	UserName          string    `json:"user_name,omitempty"`
	Active            bool      `json:"active"`
	Messages          []Message `json:"messages"`
	CreatedAt         time.Time `json:"created_at"`
	LastUpdate        time.Time `json:"last_update"`
}

// DisplayName returns the stored user name, falling back to a label
// derived from the conversation key.
func (c *Conversation) DisplayName() string {
	if c.UserName != "" {
		return c.UserName
	}
	return "User " + c.UserConnectionID
}
