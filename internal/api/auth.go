package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/taskyard/taskyard/internal/middleware"
	"github.com/taskyard/taskyard/internal/store"
)

// AuthHandler manages registration, login, and session teardown.
type AuthHandler struct {
	Users *store.UserStore
}

type RegisterRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.Users.Create(r.Context(), store.CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		Role:      req.Role,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			sendJSON(w, http.StatusConflict, errorResponse{Error: "email already registered"})
			return
		}
		sendStoreError(w, err)
		return
	}

	token, err := h.Users.CreateSession(r.Context(), user.ID)
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create session"})
		return
	}

	sendJSON(w, http.StatusCreated, SessionResponse{Token: token, User: user})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrForbidden) {
			sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid email or password"})
			return
		}
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	token, err := h.Users.CreateSession(r.Context(), user.ID)
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create session"})
		return
	}

	sendJSON(w, http.StatusOK, SessionResponse{Token: token, User: user})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())
	if token == "" {
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing session"})
		return
	}

	if err := h.Users.DeleteSession(r.Context(), token); err != nil {
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to delete session"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing session"})
		return
	}
	sendJSON(w, http.StatusOK, user)
}

// GetUser handles GET /api/users/{id}, the public profile.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(userID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return
	}

	user, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	// Profiles are public; keep the email private.
	user.Email = ""
	sendJSON(w, http.StatusOK, user)
}
