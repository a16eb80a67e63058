package domain

import (
	"time"
)

// User represents a website visitor's chat identity. The connection ID is
// stable across reconnects (clients resend it as old_user_id); UserID is an
// optional identity supplied by the embedding site.
type User struct {
	ConnectionID      string     `json:"user_connection_id"`
	UserID            string     `json:"user_id,omitempty"`
	Name              string     `json:"user_name,omitempty"`
	AgentConnectionID string     `json:"agent_connection_id,omitempty"`
	ConnectedAt       time.Time  `json:"connection_time"`
	DisconnectedAt    *time.Time `json:"disconnection_time,omitempty"`
}

// DisplayName returns the user's name, falling back to a label derived
// from the connection ID for anonymous visitors.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return "User " + u.ConnectionID
}
