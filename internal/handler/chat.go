// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/simonlevelai/askeve-core/internal/flow"
	"github.com/simonlevelai/askeve-core/internal/middleware"
	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/state"
	"github.com/simonlevelai/askeve-core/internal/store"
	"github.com/simonlevelai/askeve-core/pkg/logger"
)

// ChatHandler handles conversation turn and history endpoints.
type ChatHandler struct {
	engine *flow.Engine
	states *state.Manager
	store  store.ConversationStore
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(engine *flow.Engine, states *state.Manager, st store.ConversationStore, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		engine: engine,
		states: states,
		store:  st,
		logger: log,
	}
}

type turnRequest struct {
	Text string `json:"text"`
}

// Turn handles POST /api/v1/conversations/{id}/turns
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTurnText(req.Text); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result := h.engine.ProcessTurn(ctx, model.TurnRequest{
		ConversationID: conversationID,
		UserID:         middleware.GetUserID(ctx),
		SessionID:      middleware.GetSessionID(ctx),
		Text:           req.Text,
	})

	writeJSON(w, http.StatusOK, result)
}

// State handles GET /api/v1/conversations/{id}
func (h *ChatHandler) State(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.states.GetState(conversationID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// History handles GET /api/v1/conversations/{id}/messages
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	msgs, err := h.store.GetConversationMessages(ctx, conversationID, limit)
	if err != nil {
		// The durable store can lag or be unreachable; in-memory history
		// still covers the active session.
		h.logger.Warn("falling back to in-memory history")
		msgs = h.states.History(conversationID)
	}
	if msgs == nil {
		msgs = []model.ConversationMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"messages":        msgs,
		"count":           len(msgs),
	})
}
