package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// MessageHandler manages single-message operations.
type MessageHandler struct {
	Conversations *store.ConversationStore
	Broadcaster   *Broadcaster
}

// MarkRead handles POST /api/messages/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	messageID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(messageID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid message id"})
		return
	}

	message, err := h.Conversations.MarkMessageRead(r.Context(), messageID, user.ID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	readAt := time.Now().UTC()
	if message.ReadAt != nil {
		readAt = *message.ReadAt
	}
	h.Broadcaster.MessageRead(message.ConversationID, message.ID, user.ID, readAt)

	sendJSON(w, http.StatusOK, message)
}
