package domain

import (
	"time"
)

// Query statuses.
const (
	QueryPending  = "pending"
	QueryResolved = "resolved"
)

// Query is an offline support request left by a visitor when no live chat
// took place. Agents work the query inbox through the REST API.
type Query struct {
	ID         int64     `json:"id"`
	Email      string    `json:"emailId"`
	UserName   string    `json:"userName"`
	Message    string    `json:"message"`
	Domain     string    `json:"domain"`
	Status     string    `json:"status"`
	ResolvedBy string    `json:"resolvedBy,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
