package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// AssignmentHandler manages the task workflow endpoints.
type AssignmentHandler struct {
	Assignments   *store.AssignmentStore
	Conversations *store.ConversationStore
	Users         *store.UserStore
	Broadcaster   *Broadcaster
}

type CreateAssignmentRequest struct {
	TaskID       string `json:"task_id"`
	ContractorID string `json:"contractor_id"`
}

type UpdateAssignmentStatusRequest struct {
	Status string `json:"status"`
}

// CreateAssignment handles POST /api/assignments
func (h *AssignmentHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if !uuidRegex.MatchString(req.TaskID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid task_id"})
		return
	}
	if !uuidRegex.MatchString(req.ContractorID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid contractor_id"})
		return
	}

	assignment, err := h.Assignments.Create(r.Context(), req.TaskID, user.ID, req.ContractorID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	sendJSON(w, http.StatusCreated, assignment)
}

// ListAssignments handles GET /api/assignments
func (h *AssignmentHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !store.ValidStatus(status) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status filter"})
		return
	}

	assignments, err := h.Assignments.ListForUser(r.Context(), user.ID, status)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"assignments": assignments})
}

// GetAssignment handles GET /api/assignments/{id}
func (h *AssignmentHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	assignment, err := h.loadForParticipant(r, user)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, assignment)
}

// UpdateStatus handles POST /api/assignments/{id}/status
func (h *AssignmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	assignmentID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(assignmentID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid assignment id"})
		return
	}

	var req UpdateAssignmentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if !store.ValidStatus(req.Status) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown status"})
		return
	}

	assignment, err := h.Assignments.UpdateStatus(r.Context(), assignmentID, user.ID, req.Status)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	h.announceStatus(r.Context(), assignment, user)

	sendJSON(w, http.StatusOK, assignment)
}

// announceStatus drops a system message into the task conversation and
// broadcasts the transition. Both are best effort; the transition has
// already committed.
func (h *AssignmentHandler) announceStatus(ctx context.Context, assignment *store.Assignment, actor *store.User) {
	conversation, err := h.Conversations.FindForTask(ctx, assignment.ClientID, assignment.ContractorID, assignment.TaskID)
	if err != nil {
		if err != store.ErrNotFound {
			log.Printf("Failed to find conversation for assignment %s: %v", assignment.ID, err)
		}
		return
	}

	message, err := h.Conversations.CreateSystemMessage(ctx, conversation.ID, statusAnnouncement(assignment.Status, actor.Name))
	if err != nil {
		log.Printf("Failed to create system message for assignment %s: %v", assignment.ID, err)
	} else {
		h.Broadcaster.NewMessage(message)
	}

	h.Broadcaster.AssignmentStatus(conversation.ID, assignment, actor.ID)
}

func statusAnnouncement(status, actorName string) string {
	switch status {
	case store.StatusInProgress:
		return fmt.Sprintf("%s started working on the task", actorName)
	case store.StatusCompleted:
		return fmt.Sprintf("%s marked the task as completed", actorName)
	case store.StatusAccepted:
		return fmt.Sprintf("%s accepted the completed work", actorName)
	default:
		return fmt.Sprintf("Task status changed to %s", status)
	}
}

func (h *AssignmentHandler) loadForParticipant(r *http.Request, user *store.User) (*store.Assignment, error) {
	assignmentID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(assignmentID) {
		return nil, store.ErrNotFound
	}

	assignment, err := h.Assignments.GetByID(r.Context(), assignmentID)
	if err != nil {
		return nil, err
	}
	if !assignment.IsParticipant(user.ID) && user.Role != store.RoleAdmin {
		return nil, store.ErrForbidden
	}
	return assignment, nil
}
