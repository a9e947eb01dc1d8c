package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskyard/taskyard/internal/gateway"
	"github.com/taskyard/taskyard/internal/store"
)

func TestSendStoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"forbidden", store.ErrForbidden, http.StatusForbidden},
		{"conflict", store.ErrConflict, http.StatusConflict},
		{"wrapped conflict", fmt.Errorf("%w: status changed concurrently", store.ErrConflict), http.StatusConflict},
		{"invalid", store.ErrInvalid, http.StatusBadRequest},
		{"wrapped invalid", fmt.Errorf("message content is required: %w", store.ErrInvalid), http.StatusBadRequest},
		{"gateway", &gateway.Error{Provider: "stripe", Message: "declined"}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sendStoreError(rec, tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestSendStoreError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	sendStoreError(rec, errors.New("pq: password authentication failed"))

	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "internal error", body.Error)
}

func TestParseBeforeCursor(t *testing.T) {
	const id = "2b7b82e4-07a0-4f4f-9657-d32a8e5c0a10"

	r := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	createdAt, cursorID, err := parseBeforeCursor(r)
	require.NoError(t, err)
	assert.Nil(t, createdAt)
	assert.Nil(t, cursorID)

	r = httptest.NewRequest(http.MethodGet, "/api/tasks?before_created_at=2026-08-01T10:00:00Z&before_id="+id, nil)
	createdAt, cursorID, err = parseBeforeCursor(r)
	require.NoError(t, err)
	require.NotNil(t, createdAt)
	require.NotNil(t, cursorID)
	assert.Equal(t, id, *cursorID)

	// Half a cursor is rejected.
	r = httptest.NewRequest(http.MethodGet, "/api/tasks?before_id="+id, nil)
	_, _, err = parseBeforeCursor(r)
	assert.Error(t, err)

	r = httptest.NewRequest(http.MethodGet, "/api/tasks?before_created_at=yesterday&before_id="+id, nil)
	_, _, err = parseBeforeCursor(r)
	assert.Error(t, err)

	r = httptest.NewRequest(http.MethodGet, "/api/tasks?before_created_at=2026-08-01T10:00:00Z&before_id=nope", nil)
	_, _, err = parseBeforeCursor(r)
	assert.Error(t, err)
}

func TestParseOptionalFields(t *testing.T) {
	raw := map[string]json.RawMessage{
		"name":  json.RawMessage(`"Fence"`),
		"price": json.RawMessage(`1200`),
		"gone":  json.RawMessage(`null`),
		"tags":  json.RawMessage(`["a","b"]`),
	}

	name, ok, err := parseOptionalStringField(raw, "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fence", *name)

	_, ok, _ = parseOptionalStringField(raw, "missing")
	assert.False(t, ok)

	gone, ok, err := parseOptionalStringField(raw, "gone")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, gone)

	price, ok, err := parseOptionalInt64Field(raw, "price")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1200), *price)

	tags, ok, err := parseOptionalStringSliceField(raw, "tags")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, tags)

	_, _, err = parseOptionalInt64Field(raw, "name")
	assert.Error(t, err)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "120.00", formatCents(12000))
	assert.Equal(t, "0.99", formatCents(99))
	assert.Equal(t, "5.05", formatCents(505))
}
