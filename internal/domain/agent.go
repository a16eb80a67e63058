// Package domain contains core domain types for the LiveDesk routing engine.
package domain

import (
	"time"
)

// AgentStatus is the presence state of a support agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// Agent represents a support-staff connection capable of handling chats
// for a domain. The connection ID is the agent's stable identity across
// reconnects (clients resend it as old_agent_id).
type Agent struct {
	ConnectionID string      `json:"agent_connection_id"`
	Name         string      `json:"agent_name"`
	Domain       string      `json:"domain"`
	Status       AgentStatus `json:"status"`
	UserCount    int         `json:"user_count"`
	LastUpdate   time.Time   `json:"last_update"`
}

// IsOnline reports whether the agent can accept new assignments.
func (a *Agent) IsOnline() bool {
	return a.Status == AgentOnline
}

// HasCapacity reports whether the agent is under the given session cap.
func (a *Agent) HasCapacity(maxUsers int) bool {
	return a.UserCount < maxUsers
}
