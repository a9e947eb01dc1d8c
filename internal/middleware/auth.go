// Package middleware provides HTTP middleware for session authentication.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/taskyard/taskyard/internal/store"
)

// ContextKey is the type for context keys in this package.
type ContextKey string

const (
	// UserKey is the context key for the authenticated user.
	UserKey ContextKey = "user"
	// TokenKey is the context key for the raw session token.
	TokenKey ContextKey = "session_token"
)

// SessionResolver resolves a raw bearer token into a user. Implemented
// by *store.UserStore.
type SessionResolver interface {
	UserByToken(ctx context.Context, token string) (*store.User, error)
}

// UserFromContext retrieves the authenticated user from the request
// context, or nil.
func UserFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(UserKey).(*store.User)
	return user
}

// TokenFromContext retrieves the raw session token, or "".
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}

// RequireUser ensures a valid session is present. The token comes from
// the Authorization Bearer header, or a `token` query parameter for
// websocket handshakes. Missing or expired sessions get a 401.
func RequireUser(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, token := resolveUser(r, sessions)
			if user == nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"missing or invalid session"}`))
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			ctx = context.WithValue(ctx, TokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalUser attaches the user when a valid session is present but
// lets anonymous requests through. Used on public browse endpoints.
func OptionalUser(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if user, token := resolveUser(r, sessions); user != nil {
				ctx = context.WithValue(ctx, UserKey, user)
				ctx = context.WithValue(ctx, TokenKey, token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveUser(r *http.Request, sessions SessionResolver) (*store.User, string) {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return nil, ""
	}

	user, err := sessions.UserByToken(r.Context(), token)
	if err != nil {
		return nil, ""
	}
	return user, token
}
