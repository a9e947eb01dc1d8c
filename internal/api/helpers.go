package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/taskyard/taskyard/internal/gateway"
	"github.com/taskyard/taskyard/internal/store"
)

var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

type errorResponse struct {
	Error string `json:"error"`
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// sendStoreError maps store and gateway sentinels onto HTTP statuses.
func sendStoreError(w http.ResponseWriter, err error) {
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, store.ErrForbidden):
		sendJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
	case errors.Is(err, store.ErrInvalid):
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrConflict):
		sendJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &gwErr):
		sendJSON(w, http.StatusBadGateway, errorResponse{Error: gwErr.Error()})
	default:
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func validateOptionalUUID(value *string, field string) error {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return errFieldf("%s cannot be empty", field)
	}
	if !uuidRegex.MatchString(trimmed) {
		return errFieldf("invalid %s", field)
	}
	*value = trimmed
	return nil
}

func parseOptionalStringField(raw map[string]json.RawMessage, key string) (*string, bool, error) {
	value, ok := raw[key]
	if !ok {
		return nil, false, nil
	}
	if len(value) == 0 || string(value) == "null" {
		return nil, true, nil
	}
	var parsed string
	if err := json.Unmarshal(value, &parsed); err != nil {
		return nil, true, err
	}
	return &parsed, true, nil
}

func parseOptionalInt64Field(raw map[string]json.RawMessage, key string) (*int64, bool, error) {
	value, ok := raw[key]
	if !ok {
		return nil, false, nil
	}
	if len(value) == 0 || string(value) == "null" {
		return nil, true, nil
	}
	var parsed int64
	if err := json.Unmarshal(value, &parsed); err != nil {
		return nil, true, err
	}
	return &parsed, true, nil
}

func parseOptionalStringSliceField(raw map[string]json.RawMessage, key string) ([]string, bool, error) {
	value, ok := raw[key]
	if !ok {
		return nil, false, nil
	}
	if len(value) == 0 || string(value) == "null" {
		return nil, true, nil
	}
	var parsed []string
	if err := json.Unmarshal(value, &parsed); err != nil {
		return nil, true, err
	}
	return parsed, true, nil
}

// parseBeforeCursor reads the keyset cursor query parameters.
func parseBeforeCursor(r *http.Request) (*time.Time, *string, error) {
	rawCreatedAt := strings.TrimSpace(r.URL.Query().Get("before_created_at"))
	rawID := strings.TrimSpace(r.URL.Query().Get("before_id"))
	if rawCreatedAt == "" && rawID == "" {
		return nil, nil, nil
	}
	if rawCreatedAt == "" || rawID == "" {
		return nil, nil, errFieldf("before_created_at and before_id must be provided together")
	}
	if !uuidRegex.MatchString(rawID) {
		return nil, nil, errFieldf("invalid before_id")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawCreatedAt)
	if err != nil {
		return nil, nil, errFieldf("invalid before_created_at")
	}
	return &createdAt, &rawID, nil
}

func errFieldf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
