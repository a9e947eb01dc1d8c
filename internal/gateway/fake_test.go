package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_RoundTrip(t *testing.T) {
	fake := NewFake()

	order, err := fake.CreateOrder(context.Background(), 5000, "EUR", "ref")
	require.NoError(t, err)
	require.NotEmpty(t, order.ExternalID)

	result, err := fake.Capture(context.Background(), order.ExternalID)
	require.NoError(t, err)
	assert.True(t, result.Settled)

	_, err = fake.Capture(context.Background(), "fake_unknown")
	assert.Error(t, err)
}
