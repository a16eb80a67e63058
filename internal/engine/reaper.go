package engine

import (
	"context"
	"log/slog"
	"time"
)

const reaperInterval = time.Minute

// StartReaper runs a background goroutine that periodically closes
// sessions abandoned by their user. A raw user disconnect keeps the
// session admitted so it can be resumed; without the reaper an agent
// could stay pinned at capacity by users who never return.
func (e *Engine) StartReaper(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", reaperInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				e.ReapAbandoned(ctx, ttl)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// ReapAbandoned closes every active session whose user has been
// disconnected longer than ttl, through the same teardown as an explicit
// end_chat: conversation inactive, agent load released, agent notified.
func (e *Engine) ReapAbandoned(ctx context.Context, ttl time.Duration) {
	sctx, cancel := e.storeCtx(ctx)
	convs, err := e.repo.AbandonedConversations(sctx, time.Now().Add(-ttl))
	cancel()
	if err != nil {
		slog.Error("Reaper failed to list abandoned sessions", "error", err)
		return
	}
	if len(convs) == 0 {
		return
	}

	slog.Info("Reaper found abandoned sessions", "count", len(convs))

	for _, conv := range convs {
		userID := conv.UserConnectionID
		agentID := conv.AgentConnectionID
		now := time.Now()

		if agentID == "" {
			// Conversation created by an early message, never admitted.
			sctx, cancel := e.storeCtx(ctx)
			if err := e.repo.CloseConversation(sctx, userID, now); err != nil {
				slog.Error("Reaper failed to close unassigned conversation", "user_id", userID, "error", err)
			}
			cancel()
			continue
		}

		// Claim before the durable write so a concurrent end_chat for the
		// same user releases the slot exactly once. Sessions persisted
		// before a restart carry no in-memory claim; the store-side
		// teardown is a no-op for anything already closed.
		_, claimed := e.claimTeardown(userID)

		sctx, cancel := e.storeCtx(ctx)
		err := e.repo.FinishConversation(sctx, userID, agentID, now)
		cancel()
		if err != nil {
			if claimed {
				e.restoreClaim(userID, agentID)
			}
			slog.Error("Reaper failed to finish conversation", "user_id", userID, "agent_id", agentID, "error", err)
			continue
		}

		e.deliver(ctx, []outbound{{
			target:  agentID,
			event:   EventChatEnded,
			payload: ChatEndedPayload{PartnerID: userID},
		}})
		slog.Info("Reaper closed abandoned session", "user_id", userID, "agent_id", agentID)
	}
}
