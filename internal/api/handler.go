// Package api provides REST handlers for chat history and the support
// query inbox.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/livedesk/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the REST surface next to the realtime engine.
type Handler struct {
	repo store.Repository
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes attaches the REST endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/previous_chats", h.PreviousChats)
	r.Get("/queries", h.ListQueries)
	r.Post("/queries", h.CreateQuery)
	r.Put("/queries/{id}/resolve", h.ResolveQuery)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
