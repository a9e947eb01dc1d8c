package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// ReviewHandler manages post-acceptance reviews.
type ReviewHandler struct {
	Reviews       *store.ReviewStore
	Assignments   *store.AssignmentStore
	Conversations *store.ConversationStore
	Broadcaster   *Broadcaster
}

type SubmitReviewRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

// SubmitReview handles POST /api/assignments/{id}/reviews
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	assignmentID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(assignmentID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid assignment id"})
		return
	}

	var req SubmitReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "rating must be between 1 and 5"})
		return
	}

	review, err := h.Reviews.Submit(r.Context(), store.SubmitReviewInput{
		AssignmentID: assignmentID,
		AuthorID:     user.ID,
		Rating:       req.Rating,
		Feedback:     req.Feedback,
	})
	if err != nil {
		sendStoreError(w, err)
		return
	}

	h.announceReview(r, assignmentID, user)

	sendJSON(w, http.StatusCreated, review)
}

// ListAssignmentReviews handles GET /api/assignments/{id}/reviews
func (h *ReviewHandler) ListAssignmentReviews(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	assignmentID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(assignmentID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid assignment id"})
		return
	}

	assignment, err := h.Assignments.GetByID(r.Context(), assignmentID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	if !assignment.IsParticipant(user.ID) && user.Role != store.RoleAdmin {
		sendJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
		return
	}

	reviews, err := h.Reviews.ListForAssignment(r.Context(), assignmentID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"reviews": reviews})
}

// ListUserReviews handles GET /api/users/{id}/reviews. Public.
func (h *ReviewHandler) ListUserReviews(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(userID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return
	}

	received, err := h.Reviews.ListReceivedByUser(r.Context(), userID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, received)
}

func (h *ReviewHandler) announceReview(r *http.Request, assignmentID string, author *store.User) {
	assignment, err := h.Assignments.GetByID(r.Context(), assignmentID)
	if err != nil {
		log.Printf("Failed to load assignment %s for review announcement: %v", assignmentID, err)
		return
	}

	conversation, err := h.Conversations.FindForTask(r.Context(), assignment.ClientID, assignment.ContractorID, assignment.TaskID)
	if err != nil {
		if err != store.ErrNotFound {
			log.Printf("Failed to find conversation for assignment %s: %v", assignmentID, err)
		}
		return
	}

	message, err := h.Conversations.CreateSystemMessage(r.Context(), conversation.ID, fmt.Sprintf("%s left a review", author.Name))
	if err != nil {
		log.Printf("Failed to create review system message: %v", err)
		return
	}
	h.Broadcaster.NewMessage(message)
}
