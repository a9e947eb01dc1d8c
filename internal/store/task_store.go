package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task represents a job posted by a client. Tasks are archived, never
// hard-deleted.
type Task struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	CategoryID  *string   `json:"category_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"price_cents"`
	Images      []string  `json:"images"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Category is a browse facet for tasks.
type Category struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// TaskStore provides access to tasks and categories.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a new TaskStore with the given database connection.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskSelectColumns = "id, client_id, category_id, name, description, price_cents, images, archived, created_at, updated_at"

// TaskFilter defines filtering options for listing tasks.
type TaskFilter struct {
	CategoryID      *string
	ClientID        *string
	IncludeArchived bool
}

// CreateTaskInput defines the input for posting a new task.
type CreateTaskInput struct {
	ClientID    string
	CategoryID  *string
	Name        string
	Description string
	PriceCents  int64
	Images      []string
}

// Create posts a new task owned by input.ClientID.
func (s *TaskStore) Create(ctx context.Context, input CreateTaskInput) (*Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalid)
	}
	if input.PriceCents < 0 {
		return nil, fmt.Errorf("price must not be negative: %w", ErrInvalid)
	}

	imagesJSON, err := marshalImages(input.Images)
	if err != nil {
		return nil, err
	}

	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		`INSERT INTO tasks (client_id, category_id, name, description, price_cents, images)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+taskSelectColumns,
		input.ClientID,
		nullableString(input.CategoryID),
		name,
		strings.TrimSpace(input.Description),
		input.PriceCents,
		imagesJSON,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &task, nil
}

// GetByID retrieves a task by ID.
func (s *TaskStore) GetByID(ctx context.Context, id string) (*Task, error) {
	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		"SELECT "+taskSelectColumns+" FROM tasks WHERE id = $1",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// List retrieves tasks matching the filter, newest first, with keyset
// pagination on (created_at, id). Returns the page and whether more
// rows remain.
func (s *TaskStore) List(
	ctx context.Context,
	filter TaskFilter,
	limit int,
	beforeCreatedAt *time.Time,
	beforeID *string,
) ([]Task, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	conditions := []string{}
	args := []interface{}{}
	if !filter.IncludeArchived {
		conditions = append(conditions, "NOT archived")
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if beforeCreatedAt != nil && beforeID != nil && strings.TrimSpace(*beforeID) != "" {
		args = append(args, beforeCreatedAt.UTC(), strings.TrimSpace(*beforeID))
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+taskSelectColumns+" FROM tasks "+where+
			fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)),
		args...,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0, limit+1)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error reading tasks: %w", err)
	}

	hasMore := len(tasks) > limit
	if hasMore {
		tasks = tasks[:limit]
	}
	return tasks, hasMore, nil
}

// UpdateTaskInput defines the full set of mutable task fields. The
// handler merges partial requests into the loaded row first.
type UpdateTaskInput struct {
	CategoryID  *string
	Name        string
	Description string
	PriceCents  int64
	Images      []string
}

// Update rewrites a task's mutable fields. Only the owning client may
// update; mismatched ownership returns ErrForbidden.
func (s *TaskStore) Update(ctx context.Context, id, clientID string, input UpdateTaskInput) (*Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalid)
	}
	if input.PriceCents < 0 {
		return nil, fmt.Errorf("price must not be negative: %w", ErrInvalid)
	}

	imagesJSON, err := marshalImages(input.Images)
	if err != nil {
		return nil, err
	}

	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		`UPDATE tasks SET category_id = $1, name = $2, description = $3, price_cents = $4, images = $5
		 WHERE id = $6 AND client_id = $7
		 RETURNING `+taskSelectColumns,
		nullableString(input.CategoryID),
		name,
		strings.TrimSpace(input.Description),
		input.PriceCents,
		imagesJSON,
		id,
		clientID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.notFoundOrForbidden(ctx, id)
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return &task, nil
}

// Archive flags a task as archived. Only the owning client may archive.
// Archiving is idempotent.
func (s *TaskStore) Archive(ctx context.Context, id, clientID string) (*Task, error) {
	task, err := scanTask(s.db.QueryRowContext(
		ctx,
		"UPDATE tasks SET archived = TRUE WHERE id = $1 AND client_id = $2 RETURNING "+taskSelectColumns,
		id,
		clientID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.notFoundOrForbidden(ctx, id)
		}
		return nil, fmt.Errorf("failed to archive task: %w", err)
	}
	return &task, nil
}

// ListCategories returns all categories ordered by name.
func (s *TaskStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, slug, name FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading categories: %w", err)
	}
	return categories, nil
}

// notFoundOrForbidden distinguishes a missing task from someone else's.
func (s *TaskStore) notFoundOrForbidden(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)", id).Scan(&exists)
	if err == nil && exists {
		return ErrForbidden
	}
	return ErrNotFound
}

func marshalImages(images []string) ([]byte, error) {
	if images == nil {
		images = []string{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("failed to encode images: %w", err)
	}
	return data, nil
}

func scanTask(scanner interface{ Scan(...any) error }) (Task, error) {
	var task Task
	var categoryID sql.NullString
	var imagesBytes []byte

	err := scanner.Scan(
		&task.ID,
		&task.ClientID,
		&categoryID,
		&task.Name,
		&task.Description,
		&task.PriceCents,
		&imagesBytes,
		&task.Archived,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return task, err
	}

	if categoryID.Valid {
		task.CategoryID = &categoryID.String
	}
	task.Images = []string{}
	if len(imagesBytes) > 0 {
		if err := json.Unmarshal(imagesBytes, &task.Images); err != nil {
			return task, fmt.Errorf("failed to decode images: %w", err)
		}
	}
	return task, nil
}
