package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Review directions.
const (
	DirectionOfContractor = "of_contractor"
	DirectionOfClient     = "of_client"
)

// Review is a rating plus feedback for one side of an assignment.
type Review struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	Direction    string    `json:"direction"`
	AuthorID     string    `json:"author_id"`
	Rating       int       `json:"rating"`
	Feedback     string    `json:"feedback"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReviewStore provides access to assignment reviews.
type ReviewStore struct {
	db *sql.DB
}

// NewReviewStore creates a new ReviewStore.
func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

const reviewSelectColumns = "id, assignment_id, direction, author_id, rating, feedback, created_at, updated_at"

// SubmitReviewInput defines the input for submitting a review.
type SubmitReviewInput struct {
	AssignmentID string
	AuthorID     string
	Rating       int
	Feedback     string
}

// Submit records a review for an assignment. The direction is inferred
// from the author: the client reviews the contractor and vice versa.
// Only allowed once the assignment is ACCEPTED; resubmitting the same
// direction updates the existing review rather than duplicating it.
func (s *ReviewStore) Submit(ctx context.Context, input SubmitReviewInput) (*Review, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5: %w", ErrInvalid)
	}

	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	assignment, err := scanAssignment(tx.QueryRowContext(
		ctx,
		"SELECT "+assignmentSelectColumns+" FROM task_assignments WHERE id = $1 FOR UPDATE",
		input.AssignmentID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}

	var direction, flagColumn string
	switch input.AuthorID {
	case assignment.ClientID:
		direction = DirectionOfContractor
		flagColumn = "reviewed_by_client"
	case assignment.ContractorID:
		direction = DirectionOfClient
		flagColumn = "reviewed_by_contractor"
	default:
		return nil, ErrForbidden
	}

	if assignment.Status != StatusAccepted {
		return nil, fmt.Errorf("%w: reviews require an accepted assignment", ErrConflict)
	}

	review, err := scanReview(tx.QueryRowContext(
		ctx,
		`INSERT INTO reviews (assignment_id, direction, author_id, rating, feedback)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (assignment_id, direction)
		 DO UPDATE SET rating = EXCLUDED.rating, feedback = EXCLUDED.feedback
		 RETURNING `+reviewSelectColumns,
		input.AssignmentID,
		direction,
		input.AuthorID,
		input.Rating,
		strings.TrimSpace(input.Feedback),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to submit review: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		"UPDATE task_assignments SET "+flagColumn+" = TRUE WHERE id = $1",
		input.AssignmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to flag assignment as reviewed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit review: %w", err)
	}
	return &review, nil
}

// ListForAssignment returns the reviews attached to an assignment.
func (s *ReviewStore) ListForAssignment(ctx context.Context, assignmentID string) ([]Review, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+reviewSelectColumns+" FROM reviews WHERE assignment_id = $1 ORDER BY direction",
		assignmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()
	return collectReviews(rows)
}

// ReceivedReviews is a user's incoming reviews plus their average rating.
type ReceivedReviews struct {
	Reviews       []Review `json:"reviews"`
	AverageRating float64  `json:"average_rating"`
}

// ListReceivedByUser returns the reviews written about a user, across
// both directions, newest first.
func (s *ReviewStore) ListReceivedByUser(ctx context.Context, userID string) (*ReceivedReviews, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+prefixedReviewColumns("r")+`
		 FROM reviews r
		 JOIN task_assignments a ON a.id = r.assignment_id
		 WHERE (r.direction = $1 AND a.contractor_id = $2)
		    OR (r.direction = $3 AND a.client_id = $2)
		 ORDER BY r.created_at DESC`,
		DirectionOfContractor, userID, DirectionOfClient,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list received reviews: %w", err)
	}
	defer rows.Close()

	reviews, err := collectReviews(rows)
	if err != nil {
		return nil, err
	}

	received := &ReceivedReviews{Reviews: reviews}
	if len(reviews) > 0 {
		total := 0
		for _, r := range reviews {
			total += r.Rating
		}
		received.AverageRating = float64(total) / float64(len(reviews))
	}
	return received, nil
}

func prefixedReviewColumns(alias string) string {
	cols := strings.Split(reviewSelectColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func collectReviews(rows *sql.Rows) ([]Review, error) {
	reviews := make([]Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading reviews: %w", err)
	}
	return reviews, nil
}

func scanReview(scanner interface{ Scan(...any) error }) (Review, error) {
	var r Review
	err := scanner.Scan(
		&r.ID,
		&r.AssignmentID,
		&r.Direction,
		&r.AuthorID,
		&r.Rating,
		&r.Feedback,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}
