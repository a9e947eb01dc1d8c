package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Invoice statuses.
const (
	InvoiceUnpaid = "unpaid"
	InvoicePaid   = "paid"
)

// Invoice is a contractor-issued billing document for an assignment.
type Invoice struct {
	ID           string        `json:"id"`
	AssignmentID string        `json:"assignment_id"`
	ContractorID string        `json:"contractor_id"`
	ClientID     string        `json:"client_id"`
	Number       int64         `json:"number"`
	Status       string        `json:"status"`
	TotalCents   int64         `json:"total_cents"`
	PaidAt       *time.Time    `json:"paid_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Items        []InvoiceItem `json:"items,omitempty"`
}

// InvoiceItem is one billed line on an invoice.
type InvoiceItem struct {
	ID             string `json:"id"`
	InvoiceID      string `json:"invoice_id"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// InvoiceStore provides access to invoices and their items.
type InvoiceStore struct {
	db *sql.DB
}

// NewInvoiceStore creates a new InvoiceStore.
func NewInvoiceStore(db *sql.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

const invoiceSelectColumns = "id, assignment_id, contractor_id, client_id, number, status, total_cents, paid_at, created_at, updated_at"

// IssueInvoiceInput defines the input for issuing an invoice.
type IssueInvoiceInput struct {
	AssignmentID string
	ContractorID string
	Items        []InvoiceItemInput
}

// InvoiceItemInput is one requested line item.
type InvoiceItemInput struct {
	Description    string
	Quantity       int
	UnitPriceCents int64
}

// Issue creates an invoice with its line items in one transaction.
// Only the assignment's contractor may issue, and only once the work is
// COMPLETED (or already ACCEPTED). The stored total is computed from the
// items inside the same transaction.
func (s *InvoiceStore) Issue(ctx context.Context, input IssueInvoiceInput) (*Invoice, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("at least one line item is required: %w", ErrInvalid)
	}
	for _, item := range input.Items {
		if strings.TrimSpace(item.Description) == "" {
			return nil, fmt.Errorf("item description is required: %w", ErrInvalid)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item quantity must be positive: %w", ErrInvalid)
		}
		if item.UnitPriceCents < 0 {
			return nil, fmt.Errorf("item price must not be negative: %w", ErrInvalid)
		}
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
	if assignment.ContractorID != input.ContractorID {
		return nil, ErrForbidden
	}
	if assignment.Status != StatusCompleted && assignment.Status != StatusAccepted {
		return nil, fmt.Errorf("%w: invoices require a completed assignment", ErrConflict)
	}

	invoice, err := scanInvoice(tx.QueryRowContext(
		ctx,
		`INSERT INTO invoices (assignment_id, contractor_id, client_id)
		 VALUES ($1, $2, $3)
		 RETURNING `+invoiceSelectColumns,
		assignment.ID, assignment.ContractorID, assignment.ClientID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	var total int64
	items := make([]InvoiceItem, 0, len(input.Items))
	for _, in := range input.Items {
		var item InvoiceItem
		err := tx.QueryRowContext(
			ctx,
			`INSERT INTO invoice_items (invoice_id, description, quantity, unit_price_cents)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, invoice_id, description, quantity, unit_price_cents`,
			invoice.ID, strings.TrimSpace(in.Description), in.Quantity, in.UnitPriceCents,
		).Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Quantity, &item.UnitPriceCents)
		if err != nil {
			return nil, fmt.Errorf("failed to create invoice item: %w", err)
		}
		total += int64(item.Quantity) * item.UnitPriceCents
		items = append(items, item)
	}

	invoice, err = scanInvoice(tx.QueryRowContext(
		ctx,
		"UPDATE invoices SET total_cents = $1 WHERE id = $2 RETURNING "+invoiceSelectColumns,
		total, invoice.ID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to set invoice total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}

	invoice.Items = items
	return &invoice, nil
}

// GetByID retrieves an invoice with its items.
func (s *InvoiceStore) GetByID(ctx context.Context, id string) (*Invoice, error) {
	invoice, err := scanInvoice(s.db.QueryRowContext(
		ctx,
		"SELECT "+invoiceSelectColumns+" FROM invoices WHERE id = $1",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	items, err := s.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	invoice.Items = items
	return &invoice, nil
}

// ListForUser retrieves invoices where the user is payer or issuer,
// optionally filtered by status. Newest first. Items are not loaded.
func (s *InvoiceStore) ListForUser(ctx context.Context, userID, status string) ([]Invoice, error) {
	conditions := []string{"(contractor_id = $1 OR client_id = $1)"}
	args := []interface{}{userID}
	if status != "" {
		args = append(args, status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+invoiceSelectColumns+" FROM invoices WHERE "+
			strings.Join(conditions, " AND ")+" ORDER BY created_at DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading invoices: %w", err)
	}
	return invoices, nil
}

func (s *InvoiceStore) listItems(ctx context.Context, invoiceID string) ([]InvoiceItem, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, invoice_id, description, quantity, unit_price_cents
		 FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at, id`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	defer rows.Close()

	items := make([]InvoiceItem, 0)
	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading invoice items: %w", err)
	}
	return items, nil
}

func scanInvoice(scanner interface{ Scan(...any) error }) (Invoice, error) {
	var inv Invoice
	var paidAt sql.NullTime

	err := scanner.Scan(
		&inv.ID,
		&inv.AssignmentID,
		&inv.ContractorID,
		&inv.ClientID,
		&inv.Number,
		&inv.Status,
		&inv.TotalCents,
		&paidAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return inv, err
	}
	if paidAt.Valid {
		inv.PaidAt = &paidAt.Time
	}
	return inv, nil
}
