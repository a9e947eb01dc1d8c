// Package gateway wraps the third-party payment providers behind a
// single interface. Calls are single-shot: failures surface to the
// caller, there is no retry policy.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeclined is returned when the provider rejects a capture.
var ErrDeclined = errors.New("payment declined")

// Order is the provider-side handle for a checkout. ClientSecret is
// Stripe's Elements secret; ApproveURL is PayPal's redirect link. Only
// one of the two is set.
type Order struct {
	ExternalID   string `json:"external_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApproveURL   string `json:"approve_url,omitempty"`
}

// CaptureResult reports the settled state of an order.
type CaptureResult struct {
	ExternalID string `json:"external_id"`
	Settled    bool   `json:"settled"`
}

// Gateway creates and captures provider orders.
type Gateway interface {
	// CreateOrder opens a checkout for the given amount.
	CreateOrder(ctx context.Context, amountCents int64, currency, reference string) (*Order, error)
	// Capture settles a previously created order.
	Capture(ctx context.Context, externalID string) (*CaptureResult, error)
}

// Error wraps a provider failure with enough context for the API layer
// to surface it as a gateway error.
type Error struct {
	Provider string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
