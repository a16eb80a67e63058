// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/livedesk/internal/domain"
)

// Repository defines the durable store the routing engine writes through.
// It is the source of truth on restart; all in-memory routing state must be
// reconstructable from it. Every method is atomic per call.
type Repository interface {
	// GetAgent retrieves an agent by connection ID. Returns nil, nil when
	// no record exists.
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)

	// UpsertAgent creates or updates an agent record.
	UpsertAgent(ctx context.Context, agent *domain.Agent) error

	// UpdateAgentStatus sets an agent's presence status.
	UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus, at time.Time) error

	// AdjustAgentLoad adds delta to an agent's user count, floored at zero.
	AdjustAgentLoad(ctx context.Context, agentID string, delta int, at time.Time) error

	// OnlineAgents lists agents with status online in the given domain.
	OnlineAgents(ctx context.Context, domainName string) ([]*domain.Agent, error)

	// GetUser retrieves a user by connection ID. Returns nil, nil when no
	// record exists.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// MarkUserConnected clears the disconnection stamp and records a fresh
	// connection time.
	MarkUserConnected(ctx context.Context, userID string, at time.Time) error

	// MarkUserDisconnected records the user's disconnection time.
	MarkUserDisconnected(ctx context.Context, userID string, at time.Time) error

	// ActiveConversation returns the user's active conversation without its
	// transcript, or nil, nil when none exists.
	ActiveConversation(ctx context.Context, userID string) (*domain.Conversation, error)

	// ActiveConversationsForAgent returns every active conversation bound
	// to the agent, transcripts included.
	ActiveConversationsForAgent(ctx context.Context, agentID string) ([]*domain.Conversation, error)

	// ClosedConversationsForAgent returns a page of the agent's closed
	// conversations, newest first, transcripts included, plus the total
	// count of closed conversations.
	ClosedConversationsForAgent(ctx context.Context, agentID string, limit, offset int) ([]*domain.Conversation, int, error)

	// AbandonedConversations returns active conversations whose user
	// disconnected before the threshold and has not reconnected.
	AbandonedConversations(ctx context.Context, threshold time.Time) ([]*domain.Conversation, error)

	// CreateConversation inserts a new conversation record.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// EnsureConversation inserts an active conversation record for the user
	// if none exists; an existing record is left untouched.
	EnsureConversation(ctx context.Context, userID string, at time.Time) error

	// RebindConversation points an existing conversation at the given agent
	// and reactivates it, creating the record if absent.
	RebindConversation(ctx context.Context, userID, agentID string, at time.Time) error

	// CloseConversation marks the conversation inactive.
	CloseConversation(ctx context.Context, userID string, at time.Time) error

	// FinishConversation tears a session down in one transaction: the
	// conversation goes inactive, the user's disconnection time is
	// stamped, and the agent's user count is decremented (floored at
	// zero). The decrement is tied to the active-to-inactive transition;
	// finishing an already-inactive conversation is a no-op.
	FinishConversation(ctx context.Context, userID, agentID string, at time.Time) error

	// AppendMessage appends one message to the conversation transcript.
	// The append is the atomic unit of transcript mutation.
	AppendMessage(ctx context.Context, userID string, msg domain.Message) error

	// Messages returns the conversation transcript in append order.
	Messages(ctx context.Context, userID string) ([]domain.Message, error)

	// CreateQuery inserts an offline support query and returns it with its
	// assigned ID.
	CreateQuery(ctx context.Context, q *domain.Query) (*domain.Query, error)

	// ListQueries returns a page of queries filtered by status and,
	// optionally, domain, newest first, plus the total count.
	ListQueries(ctx context.Context, status, domainName string, limit, offset int) ([]*domain.Query, int, error)

	// ResolveQuery marks a query resolved. Returns the updated record, or
	// nil, nil when the ID is unknown.
	ResolveQuery(ctx context.Context, id int64, resolvedBy, agentID string, at time.Time) (*domain.Query, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
