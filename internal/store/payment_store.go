package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Payment methods and statuses.
const (
	MethodStripe = "stripe"
	MethodPayPal = "paypal"

	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// Payment settles one or more invoices through a gateway in a single
// checkout. Its total always equals the sum of the linked invoices'
// totals, computed server-side at creation.
type Payment struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"client_id"`
	Method         string     `json:"method"`
	Status         string     `json:"status"`
	TotalCents     int64      `json:"total_cents"`
	ExternalID     *string    `json:"external_id,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	InvoiceIDs     []string   `json:"invoice_ids,omitempty"`
}

// PaymentStore provides access to payments.
type PaymentStore struct {
	db *sql.DB
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentSelectColumns = "id, client_id, method, status, total_cents, external_id, idempotency_key, paid_at, created_at, updated_at"

// CreatePaymentInput defines the input for creating a payment.
type CreatePaymentInput struct {
	ClientID       string
	Method         string
	IdempotencyKey string
	InvoiceIDs     []string
}

// Create opens a pending payment over a set of invoices. Replaying the
// same idempotency key returns the previously created payment instead
// of a duplicate. All invoices must belong to the client, be unpaid,
// and not be attached to another live payment.
func (s *PaymentStore) Create(ctx context.Context, input CreatePaymentInput) (*Payment, bool, error) {
	if input.Method != MethodStripe && input.Method != MethodPayPal {
		return nil, false, fmt.Errorf("unknown payment method %q: %w", input.Method, ErrInvalid)
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, false, fmt.Errorf("idempotency key is required: %w", ErrInvalid)
	}
	if len(input.InvoiceIDs) == 0 {
		return nil, false, fmt.Errorf("at least one invoice is required: %w", ErrInvalid)
	}

	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	// Idempotent replay: hand back the original payment.
	existing, err := scanPayment(tx.QueryRowContext(
		ctx,
		"SELECT "+paymentSelectColumns+" FROM payments WHERE idempotency_key = $1",
		key,
	))
	if err == nil {
		if existing.ClientID != input.ClientID {
			return nil, false, ErrForbidden
		}
		if err := attachInvoiceIDs(ctx, tx, &existing); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit payment lookup: %w", err)
		}
		return &existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	rows, err := tx.QueryContext(
		ctx,
		`SELECT id, client_id, status, total_cents FROM invoices
		 WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(input.InvoiceIDs),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock invoices: %w", err)
	}

	var total int64
	seen := make(map[string]bool, len(input.InvoiceIDs))
	for rows.Next() {
		var id, clientID, status string
		var cents int64
		if err := rows.Scan(&id, &clientID, &status, &cents); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("failed to scan invoice: %w", err)
		}
		if clientID != input.ClientID {
			rows.Close()
			return nil, false, ErrForbidden
		}
		if status != InvoiceUnpaid {
			rows.Close()
			return nil, false, fmt.Errorf("%w: invoice %s is already paid", ErrConflict, id)
		}
		seen[id] = true
		total += cents
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, false, fmt.Errorf("error reading invoices: %w", err)
	}
	rows.Close()

	for _, id := range input.InvoiceIDs {
		if !seen[id] {
			return nil, false, fmt.Errorf("invoice %s %w", id, ErrNotFound)
		}
	}

	// Invoices held by a failed checkout become payable again.
	_, err = tx.ExecContext(
		ctx,
		`DELETE FROM payment_invoices pi USING payments p
		 WHERE pi.payment_id = p.id AND p.status = $1 AND pi.invoice_id = ANY($2)`,
		PaymentFailed,
		pq.Array(input.InvoiceIDs),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to release failed payment links: %w", err)
	}

	payment, err := scanPayment(tx.QueryRowContext(
		ctx,
		`INSERT INTO payments (client_id, method, total_cents, idempotency_key)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+paymentSelectColumns,
		input.ClientID, input.Method, total, key,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payment: %w", err)
	}

	for _, id := range input.InvoiceIDs {
		_, err := tx.ExecContext(
			ctx,
			"INSERT INTO payment_invoices (payment_id, invoice_id) VALUES ($1, $2)",
			payment.ID, id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, false, fmt.Errorf("%w: invoice %s is already part of another payment", ErrConflict, id)
			}
			return nil, false, fmt.Errorf("failed to link invoice: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit payment: %w", err)
	}

	payment.InvoiceIDs = append([]string(nil), input.InvoiceIDs...)
	return &payment, false, nil
}

// SetExternalID records the gateway's transaction/order id.
func (s *PaymentStore) SetExternalID(ctx context.Context, id, externalID string) (*Payment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(
		ctx,
		"UPDATE payments SET external_id = $1 WHERE id = $2 RETURNING "+paymentSelectColumns,
		externalID, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to set external id: %w", err)
	}
	return &payment, nil
}

// MarkPaid settles the payment and all linked invoices in one
// transaction. Already-paid payments are returned unchanged.
func (s *PaymentStore) MarkPaid(ctx context.Context, id string) (*Payment, error) {
	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	payment, err := scanPayment(tx.QueryRowContext(
		ctx,
		"SELECT "+paymentSelectColumns+" FROM payments WHERE id = $1 FOR UPDATE",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if payment.Status == PaymentPaid {
		if err := attachInvoiceIDs(ctx, tx, &payment); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit payment lookup: %w", err)
		}
		return &payment, nil
	}

	payment, err = scanPayment(tx.QueryRowContext(
		ctx,
		"UPDATE payments SET status = $1, paid_at = now() WHERE id = $2 RETURNING "+paymentSelectColumns,
		PaymentPaid, id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment paid: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE invoices SET status = $1, paid_at = now()
		 WHERE id IN (SELECT invoice_id FROM payment_invoices WHERE payment_id = $2)`,
		InvoicePaid, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invoices paid: %w", err)
	}

	if err := attachInvoiceIDs(ctx, tx, &payment); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return &payment, nil
}

// MarkFailed flags a pending payment as failed, releasing its invoices
// for a fresh checkout.
func (s *PaymentStore) MarkFailed(ctx context.Context, id string) (*Payment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(
		ctx,
		"UPDATE payments SET status = $1 WHERE id = $2 AND status = $3 RETURNING "+paymentSelectColumns,
		PaymentFailed, id, PaymentPending,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.GetByID(ctx, id)
		}
		return nil, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return &payment, nil
}

// GetByID retrieves a payment with its linked invoice ids.
func (s *PaymentStore) GetByID(ctx context.Context, id string) (*Payment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(
		ctx,
		"SELECT "+paymentSelectColumns+" FROM payments WHERE id = $1",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	if err := attachInvoiceIDs(ctx, s.db, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func attachInvoiceIDs(ctx context.Context, q Querier, payment *Payment) error {
	rows, err := q.QueryContext(
		ctx,
		"SELECT invoice_id FROM payment_invoices WHERE payment_id = $1 ORDER BY invoice_id",
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to list payment invoices: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan payment invoice: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error reading payment invoices: %w", err)
	}
	payment.InvoiceIDs = ids
	return nil
}

func scanPayment(scanner interface{ Scan(...any) error }) (Payment, error) {
	var p Payment
	var externalID sql.NullString
	var paidAt sql.NullTime

	err := scanner.Scan(
		&p.ID,
		&p.ClientID,
		&p.Method,
		&p.Status,
		&p.TotalCents,
		&externalID,
		&p.IdempotencyKey,
		&paidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if externalID.Valid {
		p.ExternalID = &externalID.String
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	return p, nil
}
