// Package engine implements the session routing and assignment core:
// agent presence, capacity-aware assignment, the user/agent session map,
// reconnection recovery, and ordered message relay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/livedesk/internal/domain"
	"github.com/ashureev/livedesk/internal/store"
)

// DefaultMaxUsersPerAgent is the per-agent session cap when none is
// configured.
const DefaultMaxUsersPerAgent = 2

// Options tunes engine behavior.
type Options struct {
	// MaxUsersPerAgent caps concurrently admitted sessions per agent.
	MaxUsersPerAgent int

	// StoreTimeout bounds every durable-store call made while handling an
	// event. Expiry is treated as a store failure.
	StoreTimeout time.Duration
}

// Engine owns the presence registry, per-domain queues, and the session
// map. All of that state is guarded by one mutex: event volumes are
// per-human-conversation, so a coarse lock is the simple correct choice,
// and it makes agent selection and the load increment a single critical
// section. The durable store is the authority of record; in-memory state
// is written through before any notification goes out, except the offline
// fast path (presence must never lag behind a real disconnect).
type Engine struct {
	repo         store.Repository
	notifier     Notifier
	maxUsers     int
	storeTimeout time.Duration

	mu          sync.Mutex
	agents      map[string]*domain.Agent
	queues      map[string]*agentQueue
	userToAgent map[string]string
	agentUsers  map[string]map[string]struct{}
	roles       map[string]domain.Role

	convMu    sync.Mutex
	convLocks map[string]*sync.Mutex
}

// New creates a routing engine backed by the given store and notifier.
func New(repo store.Repository, notifier Notifier, opts Options) *Engine {
	if opts.MaxUsersPerAgent <= 0 {
		opts.MaxUsersPerAgent = DefaultMaxUsersPerAgent
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Engine{
		repo:         repo,
		notifier:     notifier,
		maxUsers:     opts.MaxUsersPerAgent,
		storeTimeout: opts.StoreTimeout,
		agents:       make(map[string]*domain.Agent),
		queues:       make(map[string]*agentQueue),
		userToAgent:  make(map[string]string),
		agentUsers:   make(map[string]map[string]struct{}),
		roles:        make(map[string]domain.Role),
		convLocks:    make(map[string]*sync.Mutex),
	}
}

// ChatRequest carries a user's live-chat request.
type ChatRequest struct {
	Domain   string
	UserID   string // persistent identity supplied by the embedding site
	UserName string
	ResumeID string // prior connection identity, set on reconnect
}

// RegisterAgent brings an agent online in a domain. A non-empty resumeID
// re-homes the agent's existing record (possibly into a new domain queue);
// otherwise a fresh record is created under connID. The returned identity
// is the one the agent is addressed by from now on. The presence change is
// broadcast after the durable write commits.
func (e *Engine) RegisterAgent(ctx context.Context, connID, domainName, name, resumeID string) (string, error) {
	if domainName == "" {
		return "", ErrDomainRequired
	}

	agentID := connID
	if resumeID != "" {
		agentID = resumeID
	}
	now := time.Now()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	existing, err := e.repo.GetAgent(sctx, agentID)
	if err != nil {
		return "", fmt.Errorf("look up agent %s: %w", agentID, err)
	}

	e.mu.Lock()
	// Re-registration into a different domain must leave the stale queue.
	if st, ok := e.agents[agentID]; ok && st.Domain != domainName {
		if q := e.queues[st.Domain]; q != nil {
			q.Remove(agentID)
		}
	}

	count := 0
	if existing != nil {
		// Durable count survives restarts and reconnects; active sessions
		// stay admitted while the agent is away.
		count = existing.UserCount
	} else if st, ok := e.agents[agentID]; ok {
		count = st.UserCount
	}

	agent := &domain.Agent{
		ConnectionID: agentID,
		Name:         name,
		Domain:       domainName,
		Status:       domain.AgentOnline,
		UserCount:    count,
		LastUpdate:   now,
	}
	if err := e.repo.UpsertAgent(sctx, agent); err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("persist agent %s: %w", agentID, err)
	}

	e.agents[agentID] = agent
	e.queue(domainName).Add(agentID)
	e.roles[agentID] = domain.RoleAgent
	e.mu.Unlock()

	e.deliver(ctx, []outbound{{
		event:   EventAgentStatus,
		payload: AgentStatusPayload{AgentConnectionID: agentID, Status: domain.AgentOnline},
	}})

	if existing != nil {
		slog.Info("Agent reconnected", "agent_id", agentID, "domain", domainName)
	} else {
		slog.Info("Agent registered", "agent_id", agentID, "domain", domainName)
	}
	return agentID, nil
}

// SetAgentOffline marks an agent offline and removes it from its domain
// queue. The in-memory transition happens even if the durable write fails:
// presence must reflect the real disconnect, so the failure is logged and
// not surfaced. Assigned sessions are left untouched.
func (e *Engine) SetAgentOffline(ctx context.Context, agentID string) {
	now := time.Now()

	e.mu.Lock()
	if st, ok := e.agents[agentID]; ok {
		st.Status = domain.AgentOffline
		if q := e.queues[st.Domain]; q != nil {
			q.Remove(agentID)
		}
	}
	e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.repo.UpdateAgentStatus(sctx, agentID, domain.AgentOffline, now); err != nil {
		// Deliberate inconsistency window: memory says offline, the record
		// still says online until the agent's next status write.
		slog.Error("Failed to persist agent offline status", "agent_id", agentID, "error", err)
	}

	e.deliver(ctx, []outbound{{
		event:   EventAgentStatus,
		payload: AgentStatusPayload{AgentConnectionID: agentID, Status: domain.AgentOffline},
	}})
	slog.Info("Agent went offline", "agent_id", agentID)
}

// RequestChat starts or resumes a live chat for the user behind connID.
// Normal no-assignment outcomes (no agents, all busy) are communicated to
// the user directly and return nil; only store failures return an error.
func (e *Engine) RequestChat(ctx context.Context, connID string, req ChatRequest) error {
	userID := connID
	if req.ResumeID != "" {
		userID = req.ResumeID
	}

	if req.Domain == "" {
		slog.Info("Chat request without domain", "user_id", userID)
		e.deliver(ctx, []outbound{{
			target:  userID,
			event:   EventNoAgentsAvailable,
			payload: NoAgentsPayload{Message: "Domain is required"},
		}})
		return nil
	}

	now := time.Now()
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	conv, err := e.repo.ActiveConversation(sctx, userID)
	if err != nil {
		return fmt.Errorf("look up active conversation for %s: %w", userID, err)
	}
	if conv != nil && conv.AgentConnectionID != "" {
		return e.resumeChat(ctx, sctx, userID, req.UserName, conv, now)
	}

	// Selection and increment form one critical section: two concurrent
	// requests must never push the same agent past capacity.
	e.mu.Lock()
	agentID, selErr := e.selectAgentLocked(req.Domain)
	if selErr != nil {
		e.mu.Unlock()
		msg := "No agents available"
		if errors.Is(selErr, ErrAllAgentsBusy) {
			msg = "All agents are currently busy. Please try again later."
		}
		slog.Info("No assignment possible", "domain", req.Domain, "user_id", userID, "reason", selErr)
		e.deliver(ctx, []outbound{{
			target:  userID,
			event:   EventNoAgentsAvailable,
			payload: NoAgentsPayload{Message: msg},
		}})
		return nil
	}
	if err := e.repo.AdjustAgentLoad(sctx, agentID, 1, now); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("admit user %s to agent %s: %w", userID, agentID, err)
	}
	st := e.agents[agentID]
	st.UserCount++
	agentName := st.Name
	e.linkLocked(userID, agentID)
	e.roles[userID] = domain.RoleUser
	e.mu.Unlock()

	user := &domain.User{
		ConnectionID:      userID,
		UserID:            req.UserID,
		Name:              req.UserName,
		AgentConnectionID: agentID,
		ConnectedAt:       now,
	}
	if err := e.repo.UpsertUser(sctx, user); err != nil {
		e.rollbackAdmission(ctx, userID, agentID)
		return fmt.Errorf("persist user %s: %w", userID, err)
	}

	if conv != nil {
		err = e.repo.RebindConversation(sctx, userID, agentID, now)
	} else {
		err = e.repo.CreateConversation(sctx, &domain.Conversation{
			UserConnectionID:  userID,
			AgentConnectionID: agentID,
			UserName:          req.UserName,
			Active:            true,
			CreatedAt:         now,
			LastUpdate:        now,
		})
	}
	if err != nil {
		e.rollbackAdmission(ctx, userID, agentID)
		return fmt.Errorf("persist conversation for %s: %w", userID, err)
	}

	e.deliver(ctx, []outbound{
		{
			target: userID,
			event:  EventLiveChatConnected,
			payload: ChatConnectedPayload{
				AgentConnectionID: agentID,
				AgentName:         agentName,
				UserConnectionID:  userID,
				Messages:          []domain.Message{},
			},
		},
		{
			target:  agentID,
			event:   EventNewLiveChat,
			payload: NewChatPayload{UserConnectionID: userID, UserName: req.UserName},
		},
	})
	slog.Info("User assigned to agent", "user_id", userID, "agent_id", agentID, "domain", req.Domain)
	return nil
}

// resumeChat restores an existing active session without a new admission:
// the agent's load is not touched and assignment is skipped entirely.
func (e *Engine) resumeChat(ctx, sctx context.Context, userID, userName string, conv *domain.Conversation, now time.Time) error {
	agentID := conv.AgentConnectionID

	messages, err := e.repo.Messages(sctx, userID)
	if err != nil {
		return fmt.Errorf("load transcript for %s: %w", userID, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	if err := e.repo.MarkUserConnected(sctx, userID, now); err != nil {
		return fmt.Errorf("mark user %s connected: %w", userID, err)
	}

	e.mu.Lock()
	e.linkLocked(userID, agentID)
	e.roles[userID] = domain.RoleUser
	agentName := e.agentNameLocked(agentID)
	e.mu.Unlock()

	e.deliver(ctx, []outbound{
		{
			target: userID,
			event:  EventLiveChatReconnected,
			payload: ChatConnectedPayload{
				AgentConnectionID: agentID,
				AgentName:         agentName,
				UserConnectionID:  userID,
				Messages:          messages,
			},
		},
		{
			target:  agentID,
			event:   EventUserReconnected,
			payload: NewChatPayload{UserConnectionID: userID, UserName: userName},
		},
	})
	slog.Info("Chat resumed", "user_id", userID, "agent_id", agentID)
	return nil
}

// RestoreChats returns every active session bound to the agent and
// re-populates the session-map links lost to a restart. Idempotent; its
// only side effect is the in-memory map. The result is also delivered to
// the agent as a restore_active_chats event.
func (e *Engine) RestoreChats(ctx context.Context, agentID string) (map[string]RestoredChat, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	convs, err := e.repo.ActiveConversationsForAgent(sctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load active conversations for %s: %w", agentID, err)
	}

	restored := make(map[string]RestoredChat, len(convs))
	e.mu.Lock()
	for _, conv := range convs {
		e.linkLocked(conv.UserConnectionID, agentID)
		messages := conv.Messages
		if messages == nil {
			messages = []domain.Message{}
		}
		restored[conv.UserConnectionID] = RestoredChat{
			Messages: messages,
			UserName: conv.DisplayName(),
		}
	}
	e.roles[agentID] = domain.RoleAgent
	e.mu.Unlock()

	e.deliver(ctx, []outbound{{target: agentID, event: EventRestoreActiveChats, payload: restored}})
	slog.Info("Restored active chats", "agent_id", agentID, "count", len(restored))
	return restored, nil
}

// Relay appends a message to the session transcript and forwards it to the
// recipient. A missing recipient drops the message entirely (logged only:
// there is no safe party to notify). The transcript key is always the user
// side of the conversation, and writes are serialized per session so
// transcript order matches delivery order.
func (e *Engine) Relay(ctx context.Context, senderID, recipientID, body, image string) error {
	if recipientID == "" {
		slog.Warn("Message without recipient dropped", "sender", senderID)
		return nil
	}

	now := time.Now()
	role := e.senderRole(ctx, senderID)
	convKey := senderID
	if role == domain.RoleAgent {
		convKey = recipientID
	}

	unlock := e.lockConversation(convKey)
	defer unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	// A message can race ahead of chat-request bookkeeping; create the
	// user and conversation records on demand.
	user, err := e.repo.GetUser(sctx, convKey)
	if err != nil {
		return fmt.Errorf("look up user %s: %w", convKey, err)
	}
	if user == nil {
		agentRef := ""
		if role == domain.RoleAgent {
			agentRef = senderID
		}
		if err := e.repo.UpsertUser(sctx, &domain.User{
			ConnectionID:      convKey,
			AgentConnectionID: agentRef,
			ConnectedAt:       now,
		}); err != nil {
			return fmt.Errorf("persist user %s: %w", convKey, err)
		}
	}

	if role == domain.RoleAgent {
		// An agent reply also claims the conversation, covering replies to
		// sessions recovered after a restart.
		if err := e.repo.RebindConversation(sctx, convKey, senderID, now); err != nil {
			return fmt.Errorf("rebind conversation %s: %w", convKey, err)
		}
	} else {
		if err := e.repo.EnsureConversation(sctx, convKey, now); err != nil {
			return fmt.Errorf("ensure conversation %s: %w", convKey, err)
		}
	}

	msg := domain.Message{SentAt: now, Sender: role, Body: body, Image: image}
	if err := e.repo.AppendMessage(sctx, convKey, msg); err != nil {
		return fmt.Errorf("append message to %s: %w", convKey, err)
	}

	e.deliver(ctx, []outbound{{
		target:  recipientID,
		event:   EventReceiveMessage,
		payload: ReceiveMessagePayload{From: senderID, Message: body, Image: image},
	}})
	slog.Info("Message relayed", "from", senderID, "to", recipientID, "role", role)
	return nil
}

// EndChat explicitly tears down the user's session: the conversation goes
// inactive, the agent's load is released, and both parties are notified.
// No-op if the user has no mapped session. The session map is claimed
// before the durable write, so concurrent duplicate teardowns collapse
// into one release of the agent's slot.
func (e *Engine) EndChat(ctx context.Context, userID string) error {
	agentID, claimed := e.claimTeardown(userID)
	if !claimed {
		slog.Info("End chat with no active session", "user_id", userID)
		return nil
	}

	now := time.Now()
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.repo.FinishConversation(sctx, userID, agentID, now); err != nil {
		e.restoreClaim(userID, agentID)
		return fmt.Errorf("finish conversation for %s: %w", userID, err)
	}

	e.deliver(ctx, []outbound{
		{target: agentID, event: EventChatEnded, payload: ChatEndedPayload{PartnerID: userID}},
		{target: userID, event: EventChatEnded, payload: ChatEndedPayload{PartnerID: agentID}},
	})
	slog.Info("Chat ended", "user_id", userID, "agent_id", agentID)
	return nil
}

// HandleDisconnect reacts to a transport-level connection drop. An agent
// goes offline (its sessions stay active for resumption); a user's
// disconnection is stamped and the counterpart notified, but the session
// stays active and the agent's load is NOT released: load counts admitted
// sessions, not live sockets. Abandoned sessions are reclaimed by the
// reaper.
func (e *Engine) HandleDisconnect(ctx context.Context, connID string) {
	e.mu.Lock()
	_, isAgent := e.agents[connID]
	agentID, isUser := e.userToAgent[connID]
	e.mu.Unlock()

	if isAgent {
		e.SetAgentOffline(ctx, connID)
	}

	if isUser {
		now := time.Now()
		sctx, cancel := e.storeCtx(ctx)
		if err := e.repo.MarkUserDisconnected(sctx, connID, now); err != nil {
			slog.Error("Failed to stamp user disconnection", "user_id", connID, "error", err)
		}
		cancel()

		e.mu.Lock()
		e.unlinkLocked(connID, agentID)
		e.mu.Unlock()

		e.deliver(ctx, []outbound{{
			target:  agentID,
			event:   EventChatEnded,
			payload: ChatEndedPayload{PartnerID: connID},
		}})
		slog.Info("User connection dropped", "user_id", connID, "agent_id", agentID)
	}
}

// AgentLoad returns the in-memory load for an agent. Zero for unknown IDs.
func (e *Engine) AgentLoad(agentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.agents[agentID]; ok {
		return st.UserCount
	}
	return 0
}

// AssignedAgent returns the agent currently mapped to the user, if any.
func (e *Engine) AssignedAgent(userID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	agentID, ok := e.userToAgent[userID]
	return agentID, ok
}

// selectAgentLocked picks the least-loaded online agent in the domain,
// breaking ties by enqueue order. Caller must hold e.mu.
func (e *Engine) selectAgentLocked(domainName string) (string, error) {
	q := e.queues[domainName]
	if q == nil {
		return "", ErrNoAgentsAvailable
	}

	online := 0
	best := ""
	bestCount := 0
	for _, id := range q.IDs() {
		st := e.agents[id]
		if st == nil || !st.IsOnline() {
			continue
		}
		online++
		if !st.HasCapacity(e.maxUsers) {
			continue
		}
		if best == "" || st.UserCount < bestCount {
			best = id
			bestCount = st.UserCount
		}
	}

	if online == 0 {
		return "", ErrNoAgentsAvailable
	}
	if best == "" {
		return "", ErrAllAgentsBusy
	}
	return best, nil
}

// rollbackAdmission undoes a load reservation whose follow-up writes
// failed, in memory and (best effort) durably.
func (e *Engine) rollbackAdmission(ctx context.Context, userID, agentID string) {
	e.mu.Lock()
	e.unlinkLocked(userID, agentID)
	if st := e.agents[agentID]; st != nil && st.UserCount > 0 {
		st.UserCount--
	}
	delete(e.roles, userID)
	e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.repo.AdjustAgentLoad(sctx, agentID, -1, time.Now()); err != nil {
		slog.Error("Failed to roll back agent load", "agent_id", agentID, "error", err)
	}
}

// senderRole resolves the sender's side of the conversation. Connections
// tagged at registration or chat-request time answer directly; untagged
// senders (persisted identities that survived a restart) fall back to
// registry then store membership.
func (e *Engine) senderRole(ctx context.Context, senderID string) domain.Role {
	e.mu.Lock()
	if role, ok := e.roles[senderID]; ok {
		e.mu.Unlock()
		return role
	}
	_, isAgent := e.agents[senderID]
	e.mu.Unlock()
	if isAgent {
		return domain.RoleAgent
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	agent, err := e.repo.GetAgent(sctx, senderID)
	if err != nil {
		slog.Warn("Role lookup failed, treating sender as user", "sender", senderID, "error", err)
		return domain.RoleUser
	}
	if agent != nil {
		return domain.RoleAgent
	}
	return domain.RoleUser
}

// queue returns the domain's queue, creating it on first use. Caller must
// hold e.mu.
func (e *Engine) queue(domainName string) *agentQueue {
	q, ok := e.queues[domainName]
	if !ok {
		q = newAgentQueue()
		e.queues[domainName] = q
	}
	return q
}

// linkLocked records both directions of the user/agent session mapping.
// Caller must hold e.mu.
func (e *Engine) linkLocked(userID, agentID string) {
	e.userToAgent[userID] = agentID
	users, ok := e.agentUsers[agentID]
	if !ok {
		users = make(map[string]struct{})
		e.agentUsers[agentID] = users
	}
	users[userID] = struct{}{}
}

// unlinkLocked removes both directions of the session mapping. Caller must
// hold e.mu.
func (e *Engine) unlinkLocked(userID, agentID string) {
	delete(e.userToAgent, userID)
	if users, ok := e.agentUsers[agentID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(e.agentUsers, agentID)
		}
	}
}

// agentNameLocked returns the agent's display name with the original's
// fallback for agents not currently in the registry. Caller must hold e.mu.
func (e *Engine) agentNameLocked(agentID string) string {
	if st, ok := e.agents[agentID]; ok && st.Name != "" {
		return st.Name
	}
	return "Agent"
}

// claimTeardown atomically removes the session mapping and releases the
// agent's in-memory slot. Exactly one concurrent teardown of the same
// session gets the claim; the rest see no mapping and become no-ops.
func (e *Engine) claimTeardown(userID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	agentID, ok := e.userToAgent[userID]
	if !ok {
		return "", false
	}
	e.unlinkLocked(userID, agentID)
	if st := e.agents[agentID]; st != nil && st.UserCount > 0 {
		st.UserCount--
	}
	delete(e.roles, userID)
	return agentID, true
}

// restoreClaim re-establishes a claimed session whose durable teardown
// failed.
func (e *Engine) restoreClaim(userID, agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.linkLocked(userID, agentID)
	if st := e.agents[agentID]; st != nil {
		st.UserCount++
	}
	e.roles[userID] = domain.RoleUser
}

// lockConversation serializes transcript writes per session key and
// returns the unlock func.
func (e *Engine) lockConversation(convKey string) func() {
	e.convMu.Lock()
	l, ok := e.convLocks[convKey]
	if !ok {
		l = &sync.Mutex{}
		e.convLocks[convKey] = l
	}
	e.convMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.storeTimeout)
}

func logNotifyFailure(target, event string, err error) {
	slog.Debug("Notification delivery failed", "target", target, "event", event, "error", err)
}
