package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// TaskHandler manages task and category endpoints.
type TaskHandler struct {
	Tasks *store.TaskStore
}

type TasksResponse struct {
	Tasks   []store.Task `json:"tasks"`
	HasMore bool         `json:"has_more"`
}

type CreateTaskRequest struct {
	CategoryID  *string  `json:"category_id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PriceCents  int64    `json:"price_cents"`
	Images      []string `json:"images,omitempty"`
}

// ListTasks handles GET /api/tasks, the public browse view.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{}

	if categoryID := strings.TrimSpace(r.URL.Query().Get("category_id")); categoryID != "" {
		if !uuidRegex.MatchString(categoryID) {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid category_id"})
			return
		}
		filter.CategoryID = &categoryID
	}
	if clientID := strings.TrimSpace(r.URL.Query().Get("client_id")); clientID != "" {
		if !uuidRegex.MatchString(clientID) {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid client_id"})
			return
		}
		filter.ClientID = &clientID
	}

	// Owners may include their archived tasks in their own listing.
	if r.URL.Query().Get("include_archived") == "true" {
		user := middleware.UserFromContext(r.Context())
		if user != nil && (filter.ClientID == nil || *filter.ClientID == user.ID || user.Role == store.RoleAdmin) {
			if user.Role != store.RoleAdmin {
				filter.ClientID = &user.ID
			}
			filter.IncludeArchived = true
		}
	}

	limit := 20
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

	tasks, hasMore, err := h.Tasks.List(r.Context(), filter, limit, beforeCreatedAt, beforeID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, TasksResponse{Tasks: tasks, HasMore: hasMore})
}

// CreateTask handles POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user.Role != store.RoleClient {
		sendJSON(w, http.StatusForbidden, errorResponse{Error: "only clients can post tasks"})
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := validateOptionalUUID(req.CategoryID, "category_id"); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	task, err := h.Tasks.Create(r.Context(), store.CreateTaskInput{
		ClientID:    user.ID,
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Images:      req.Images,
	})
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sendJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(taskID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid task id"})
		return
	}

	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	if task.Archived {
		user := middleware.UserFromContext(r.Context())
		if user == nil || (user.ID != task.ClientID && user.Role != store.RoleAdmin) {
			sendJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
			return
		}
	}

	sendJSON(w, http.StatusOK, task)
}

// UpdateTask handles PATCH /api/tasks/{id}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(taskID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid task id"})
		return
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	existing, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	if existing.ClientID != user.ID && user.Role != store.RoleAdmin {
		sendJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
		return
	}

	updated := store.UpdateTaskInput{
		CategoryID:  existing.CategoryID,
		Name:        existing.Name,
		Description: existing.Description,
		PriceCents:  existing.PriceCents,
		Images:      existing.Images,
	}

	if name, ok, err := parseOptionalStringField(raw, "name"); ok {
		if err != nil || name == nil || strings.TrimSpace(*name) == "" {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid name"})
			return
		}
		updated.Name = *name
	}
	if description, ok, err := parseOptionalStringField(raw, "description"); ok {
		if err != nil {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid description"})
			return
		}
		if description != nil {
			updated.Description = *description
		} else {
			updated.Description = ""
		}
	}
	if categoryID, ok, err := parseOptionalStringField(raw, "category_id"); ok {
		if err != nil {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid category_id"})
			return
		}
		if err := validateOptionalUUID(categoryID, "category_id"); err != nil {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		updated.CategoryID = categoryID
	}
	if priceCents, ok, err := parseOptionalInt64Field(raw, "price_cents"); ok {
		if err != nil || priceCents == nil || *priceCents < 0 {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid price_cents"})
			return
		}
		updated.PriceCents = *priceCents
	}
	if images, ok, err := parseOptionalStringSliceField(raw, "images"); ok {
		if err != nil {
			sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid images"})
			return
		}
		updated.Images = images
	}

	task, err := h.Tasks.Update(r.Context(), taskID, existing.ClientID, updated)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, task)
}

// ArchiveTask handles POST /api/tasks/{id}/archive
func (h *TaskHandler) ArchiveTask(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(taskID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid task id"})
		return
	}

	task, err := h.Tasks.Archive(r.Context(), taskID, user.ID)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, task)
}

// ListCategories handles GET /api/categories
func (h *TaskHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Tasks.ListCategories(r.Context())
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}
