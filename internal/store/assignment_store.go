package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Assignment statuses. The lifecycle is strictly monotonic:
// NEW -> IN_PROGRESS -> COMPLETED -> ACCEPTED.
const (
	StatusNew        = "NEW"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusAccepted   = "ACCEPTED"
)

var statusRank = map[string]int{
	StatusNew:        0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusAccepted:   3,
}

// transitionRoles maps a target status to the assignment party allowed
// to move there. The contractor works the task; the client signs off.
var transitionRoles = map[string]string{
	StatusInProgress: RoleContractor,
	StatusCompleted:  RoleContractor,
	StatusAccepted:   RoleClient,
}

// ValidStatus reports whether s is a known assignment status.
func ValidStatus(s string) bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition validates a single status step. It returns a descriptive
// error for skips, regressions, and unknown statuses.
func CanTransition(from, to string) error {
	fromRank, ok := statusRank[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	toRank, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("unknown status %q", to)
	}

	if to == StatusAccepted && from != StatusCompleted {
		return errors.New("cannot accept a task that is not completed")
	}
	if toRank <= fromRank {
		return fmt.Errorf("cannot move status back from %s to %s", from, to)
	}
	if toRank != fromRank+1 {
		return fmt.Errorf("cannot skip from %s to %s", from, to)
	}
	return nil
}

// TransitionRole returns which party (RoleClient or RoleContractor) may
// move an assignment into the given status.
func TransitionRole(to string) (string, error) {
	role, ok := transitionRoles[to]
	if !ok {
		return "", fmt.Errorf("no transition into status %q", to)
	}
	return role, nil
}

// Assignment binds a contractor to a task and tracks the lifecycle.
type Assignment struct {
	ID                   string     `json:"id"`
	TaskID               string     `json:"task_id"`
	ClientID             string     `json:"client_id"`
	ContractorID         string     `json:"contractor_id"`
	Status               string     `json:"status"`
	ReviewedByClient     bool       `json:"reviewed_by_client"`
	ReviewedByContractor bool       `json:"reviewed_by_contractor"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	AcceptedAt           *time.Time `json:"accepted_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// AssignmentStore provides access to task assignments.
type AssignmentStore struct {
	db *sql.DB
}

// NewAssignmentStore creates a new AssignmentStore.
func NewAssignmentStore(db *sql.DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

const assignmentSelectColumns = "id, task_id, client_id, contractor_id, status, reviewed_by_client, reviewed_by_contractor, completed_at, accepted_at, created_at, updated_at"

// Create binds a contractor to a task. Only the task owner may assign;
// the task must not be archived; a task can carry at most one assignment
// (a second attempt returns ErrConflict).
func (s *AssignmentStore) Create(ctx context.Context, taskID, clientID, contractorID string) (*Assignment, error) {
	if clientID == contractorID {
		return nil, fmt.Errorf("cannot assign a task to its owner: %w", ErrConflict)
	}

	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var taskOwner string
	var archived bool
	err = tx.QueryRowContext(ctx, "SELECT client_id, archived FROM tasks WHERE id = $1", taskID).
		Scan(&taskOwner, &archived)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	if taskOwner != clientID {
		return nil, ErrForbidden
	}
	if archived {
		return nil, fmt.Errorf("cannot assign an archived task: %w", ErrConflict)
	}

	var contractorRole string
	err = tx.QueryRowContext(ctx, "SELECT role FROM users WHERE id = $1", contractorID).Scan(&contractorRole)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contractor %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load contractor: %w", err)
	}
	if contractorRole != RoleContractor {
		return nil, fmt.Errorf("assignee is not a contractor: %w", ErrConflict)
	}

	assignment, err := scanAssignment(tx.QueryRowContext(
		ctx,
		`INSERT INTO task_assignments (task_id, client_id, contractor_id)
		 VALUES ($1, $2, $3)
		 RETURNING `+assignmentSelectColumns,
		taskID, clientID, contractorID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("task already has an assignment: %w", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return &assignment, nil
}

// GetByID retrieves an assignment by ID.
func (s *AssignmentStore) GetByID(ctx context.Context, id string) (*Assignment, error) {
	assignment, err := scanAssignment(s.db.QueryRowContext(
		ctx,
		"SELECT "+assignmentSelectColumns+" FROM task_assignments WHERE id = $1",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &assignment, nil
}

// ListForUser retrieves assignments where the user is either party,
// optionally filtered by status. Newest first.
func (s *AssignmentStore) ListForUser(ctx context.Context, userID, status string) ([]Assignment, error) {
	conditions := []string{"(client_id = $1 OR contractor_id = $1)"}
	args := []interface{}{userID}
	if status != "" {
		args = append(args, status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+assignmentSelectColumns+" FROM task_assignments WHERE "+
			strings.Join(conditions, " AND ")+" ORDER BY created_at DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]Assignment, 0)
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading assignments: %w", err)
	}
	return assignments, nil
}

// UpdateStatus performs one lifecycle transition as actorID. The write
// is a compare-and-swap on the previously observed status, so two
// racing transitions cannot both win: the loser gets ErrConflict.
func (s *AssignmentStore) UpdateStatus(ctx context.Context, id, actorID, to string) (*Assignment, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("unknown status %q: %w", to, ErrInvalid)
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CanTransition(current.Status, to); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}

	role, err := TransitionRole(to)
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleContractor:
		if actorID != current.ContractorID {
			return nil, ErrForbidden
		}
	case RoleClient:
		if actorID != current.ClientID {
			return nil, ErrForbidden
		}
	}

	set := "status = $1"
	switch to {
	case StatusCompleted:
		set += ", completed_at = now()"
	case StatusAccepted:
		set += ", accepted_at = now()"
	}

	assignment, err := scanAssignment(s.db.QueryRowContext(
		ctx,
		"UPDATE task_assignments SET "+set+
			" WHERE id = $2 AND status = $3 RETURNING "+assignmentSelectColumns,
		to, id, current.Status,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost the race: someone moved the status first.
			return nil, fmt.Errorf("%w: status changed concurrently", ErrConflict)
		}
		return nil, fmt.Errorf("failed to update assignment status: %w", err)
	}
	return &assignment, nil
}

// IsParticipant reports whether userID is the client or contractor of
// the assignment.
func (a *Assignment) IsParticipant(userID string) bool {
	return userID == a.ClientID || userID == a.ContractorID
}

func scanAssignment(scanner interface{ Scan(...any) error }) (Assignment, error) {
	var a Assignment
	var completedAt sql.NullTime
	var acceptedAt sql.NullTime

	err := scanner.Scan(
		&a.ID,
		&a.TaskID,
		&a.ClientID,
		&a.ContractorID,
		&a.Status,
		&a.ReviewedByClient,
		&a.ReviewedByContractor,
		&completedAt,
		&acceptedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if acceptedAt.Valid {
		a.AcceptedAt = &acceptedAt.Time
	}
	return a, nil
}
