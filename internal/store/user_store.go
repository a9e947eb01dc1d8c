package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User roles.
const (
	RoleClient     = "client"
	RoleContractor = "contractor"
	RoleAdmin      = "admin"
)

const sessionTTL = 7 * 24 * time.Hour

// User represents an account in the marketplace.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore provides access to users and their sessions.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new UserStore with the given database connection.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userSelectColumns = "id, email, name, role, avatar_url, created_at"

// CreateUserInput defines the input for registering a user.
type CreateUserInput struct {
	Email     string
	Password  string
	Name      string
	Role      string
	AvatarURL *string
}

// Create registers a new user. The password is stored as a bcrypt hash.
// A duplicate email returns ErrConflict.
func (s *UserStore) Create(ctx context.Context, input CreateUserInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email: %w", ErrInvalid)
	}
	if len(input.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters: %w", ErrInvalid)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalid)
	}
	if input.Role != RoleClient && input.Role != RoleContractor {
		return nil, fmt.Errorf("invalid role: %w", ErrInvalid)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := scanUser(s.db.QueryRowContext(
		ctx,
		`INSERT INTO users (email, password_hash, name, role, avatar_url)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userSelectColumns,
		email, string(hash), name, input.Role, nullableString(input.AvatarURL),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(
		ctx,
		"SELECT "+userSelectColumns+" FROM users WHERE id = $1",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Authenticate checks email/password and returns the matching user.
// Wrong email and wrong password are indistinguishable to the caller.
func (s *UserStore) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var (
		user      User
		hash      string
		avatarURL sql.NullString
	)
	err := s.db.QueryRowContext(
		ctx,
		"SELECT id, email, name, role, avatar_url, created_at, password_hash FROM users WHERE email = $1",
		email,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &avatarURL, &user.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if avatarURL.Valid {
		user.AvatarURL = &avatarURL.String
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrForbidden
	}
	return &user, nil
}

// CreateSession mints a session token for the user. The raw token is
// returned once; only its sha256 digest is stored.
func (s *UserStore) CreateSession(ctx context.Context, userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	_, err := s.db.ExecContext(
		ctx,
		"INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)",
		hashToken(token), userID, time.Now().Add(sessionTTL),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}

// UserByToken resolves a raw session token to its user. Expired or
// unknown tokens return ErrNotFound.
func (s *UserStore) UserByToken(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}

	user, err := scanUser(s.db.QueryRowContext(
		ctx,
		`SELECT u.id, u.email, u.name, u.role, u.avatar_url, u.created_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = $1 AND s.expires_at > now()`,
		hashToken(token),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return &user, nil
}

// DeleteSession revokes a session token.
func (s *UserStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = $1", hashToken(token))
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanExpiredSessions removes sessions past their expiry.
func (s *UserStore) CleanExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < now()")
	if err != nil {
		return fmt.Errorf("failed to clean sessions: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func scanUser(scanner interface{ Scan(...any) error }) (User, error) {
	var user User
	var avatarURL sql.NullString

	err := scanner.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Role,
		&avatarURL,
		&user.CreatedAt,
	)
	if err != nil {
		return user, err
	}
	if avatarURL.Valid {
		user.AvatarURL = &avatarURL.String
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
