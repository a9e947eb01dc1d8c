package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory gateway for development and tests. Orders settle
// on first capture.
type Fake struct {
	mu     sync.Mutex
	orders map[string]bool
}

// NewFake builds a Fake gateway.
func NewFake() *Fake {
	return &Fake{orders: make(map[string]bool)}
}

// CreateOrder records an order and returns a synthetic handle.
func (f *Fake) CreateOrder(ctx context.Context, amountCents int64, currency, reference string) (*Order, error) {
	id := "fake_" + uuid.NewString()

	f.mu.Lock()
	f.orders[id] = false
	f.mu.Unlock()

	return &Order{
		ExternalID:   id,
		ClientSecret: id + "_secret",
	}, nil
}

// Capture settles a known order.
func (f *Fake) Capture(ctx context.Context, externalID string) (*CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.orders[externalID]; !ok {
		return nil, fmt.Errorf("unknown order %q", externalID)
	}
	f.orders[externalID] = true
	return &CaptureResult{ExternalID: externalID, Settled: true}, nil
}
