package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vtrenkov/chatrelay/internal/service/engine"
	"github.com/vtrenkov/chatrelay/pkg/utils"
)

// Handler exposes the HTTP surface of the relay: inbound messages and
// read-only session state.
type Handler struct {
	engine *engine.Engine
}

// New creates the chat handler.
func New(eng *engine.Engine) *Handler {
	return &Handler{engine: eng}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handlePostMessage)
	r.Get("/sessions/{conversationID}", h.handleGetSession)
}

// handlePostMessage accepts one inbound text for a conversation. The relay
// processes asynchronously, so acceptance says nothing about the outcome.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	h.engine.HandleInbound(payload.ConversationID, payload.Text)

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleGetSession returns the AI-mode state for a conversation.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	session, ok := h.engine.Session(conversationID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}
