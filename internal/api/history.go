package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/livedesk/internal/domain"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

// chatHistoryEntry is one closed conversation in a history page.
type chatHistoryEntry struct {
	Messages []domain.Message `json:"messages"`
	UserName string           `json:"userName"`
}

// PreviousChats returns a page of an agent's closed conversations, newest
// first, transcripts included.
func (h *Handler) PreviousChats(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		Error(w, http.StatusBadRequest, "Missing agent_id")
		return
	}

	page, perPage := pagination(r)
	offset := (page - 1) * perPage

	convs, total, err := h.repo.ClosedConversationsForAgent(r.Context(), agentID, perPage, offset)
	if err != nil {
		slog.Error("Failed to load previous chats", "agent_id", agentID, "error", err)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	chats := make(map[string]chatHistoryEntry, len(convs))
	for _, conv := range convs {
		messages := conv.Messages
		if messages == nil {
			messages = []domain.Message{}
		}
		chats[conv.UserConnectionID] = chatHistoryEntry{
			Messages: messages,
			UserName: conv.DisplayName(),
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"chats":    chats,
		"page":     page,
		"per_page": perPage,
		"total":    total,
		"has_more": offset+len(convs) < total,
	})
}

// pagination reads page/per_page query params with the original's bounds:
// page is at least 1, per_page is capped at 100.
func pagination(r *http.Request) (page, perPage int) {
	page = 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 1 {
		page = v
	}
	perPage = defaultPerPage
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		perPage = v
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}
