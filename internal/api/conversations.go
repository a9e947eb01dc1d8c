package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// ConversationHandler manages chat threads.
type ConversationHandler struct {
	Conversations *store.ConversationStore
	Broadcaster   *Broadcaster
}

type CreateConversationRequest struct {
	PeerID string  `json:"peer_id"`
	TaskID *string `json:"task_id,omitempty"`
}

type MessagesResponse struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// CreateConversation handles POST /api/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if !uuidRegex.MatchString(req.PeerID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid peer_id"})
		return
	}
	if err := validateOptionalUUID(req.TaskID, "task_id"); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	conversation, err := h.Conversations.GetOrCreate(r.Context(), user.ID, user.Role, req.PeerID, req.TaskID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, conversation)
}

// ListConversations handles GET /api/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	summaries, err := h.Conversations.ListForUser(r.Context(), user.ID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"conversations": summaries})
}

// ListMessages handles GET /api/conversations/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	conversationID, err := h.requireParticipant(r, user.ID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	beforeCreatedAt, beforeID, err := parseBeforeCursor(r)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	messages, hasMore, err := h.Conversations.ListMessages(r.Context(), conversationID, limit, beforeCreatedAt, beforeID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, MessagesResponse{Messages: messages, HasMore: hasMore})
}

// SendMessage handles POST /api/conversations/{id}/messages
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(conversationID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversation id"})
		return
	}

	var req struct {
		Content  string  `json:"content"`
		ImageURL *string `json:"image_url,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	message, err := h.Conversations.CreateMessage(r.Context(), conversationID, user.ID, req.Content, req.ImageURL)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	h.Broadcaster.NewMessage(message)

	sendJSON(w, http.StatusCreated, message)
}

// MarkRead handles POST /api/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(conversationID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversation id"})
		return
	}

	marked, err := h.Conversations.MarkConversationRead(r.Context(), conversationID, user.ID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	if marked > 0 {
		h.Broadcaster.MessageRead(conversationID, "", user.ID, time.Now().UTC())
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{"marked_read": marked})
}

func (h *ConversationHandler) requireParticipant(r *http.Request, userID string) (string, error) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(conversationID) {
		return "", store.ErrNotFound
	}

	ok, err := h.Conversations.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", store.ErrForbidden
	}
	return conversationID, nil
}
