package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/livedesk/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ListQueries returns a page of support queries filtered by status and,
// optionally, domain.
func (h *Handler) ListQueries(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		Error(w, http.StatusBadRequest, "status is required")
		return
	}
	domainName := strings.TrimSpace(r.URL.Query().Get("domain"))

	page, perPage := pagination(r)
	offset := (page - 1) * perPage

	queries, total, err := h.repo.ListQueries(r.Context(), status, domainName, perPage, offset)
	if err != nil {
		slog.Error("Failed to list queries", "status", status, "domain", domainName, "error", err)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}
	if queries == nil {
		queries = []*domain.Query{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"page":        page,
		"per_page":    perPage,
		"total_items": total,
		"data":        queries,
	})
}

type createQueryRequest struct {
	Email    string `json:"emailId"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
	Domain   string `json:"domain"`
}

// CreateQuery files a new pending support query.
func (h *Handler) CreateQuery(w http.ResponseWriter, r *http.Request) {
	var req createQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.UserName == "" || req.Message == "" || req.Domain == "" {
		Error(w, http.StatusBadRequest, "emailId, userName, message and domain are required")
		return
	}

	q, err := h.repo.CreateQuery(r.Context(), &domain.Query{
		Email:     req.Email,
		UserName:  req.UserName,
		Message:   req.Message,
		Domain:    req.Domain,
		Status:    domain.QueryPending,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		slog.Error("Failed to create query", "domain", req.Domain, "error", err)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	JSON(w, http.StatusCreated, q)
}

type resolveQueryRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	AgentID    string `json:"agentId"`
}

// ResolveQuery marks a support query resolved.
func (h *Handler) ResolveQuery(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid query id")
		return
	}

	var req resolveQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResolvedBy == "" {
		Error(w, http.StatusBadRequest, "resolvedBy is required")
		return
	}

	q, err := h.repo.ResolveQuery(r.Context(), id, req.ResolvedBy, req.AgentID, time.Now())
	if err != nil {
		slog.Error("Failed to resolve query", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}
	if q == nil {
		Error(w, http.StatusNotFound, "query not found")
		return
	}

	JSON(w, http.StatusOK, q)
}
