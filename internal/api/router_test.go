package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskyard/taskyard/internal/config"
	"github.com/taskyard/taskyard/internal/store"
)

const testDBURLKey = "TASKYARD_TEST_DATABASE_URL"

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	connStr := os.Getenv(testDBURLKey)
	if connStr == "" {
		t.Skipf("set %s to a dedicated test database", testDBURLKey)
	}

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto")
	require.NoError(t, err)

	dir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)

	m, err := migrate.New("file://"+dir, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = m.Close() })

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	cfg := config.Config{
		Environment: "development",
		Currency:    "EUR",
	}

	server := httptest.NewServer(NewRouter(cfg, db))
	t.Cleanup(server.Close)
	return server
}

// doJSON fires a request and decodes the response into out (when out is
// non-nil). Returns the status code.
func doJSON(t *testing.T, server *httptest.Server, method, path, token string, body, out interface{}) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func registerTestUser(t *testing.T, server *httptest.Server, email, role string) (string, store.User) {
	t.Helper()

	var out struct {
		Token string     `json:"token"`
		User  store.User `json:"user"`
	}
	status := doJSON(t, server, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "secret-password",
		"name":     "User " + role,
		"role":     role,
	}, &out)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, out.Token)
	return out.Token, out.User
}

func TestRouter_HealthAndRoot(t *testing.T) {
	server := setupTestServer(t)

	var health HealthResponse
	status := doJSON(t, server, http.MethodGet, "/health", "", nil, &health)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health.Status)

	var banner map[string]string
	status = doJSON(t, server, http.MethodGet, "/", "", nil, &banner)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Taskyard", banner["name"])
}

func TestRouter_AuthRequired(t *testing.T) {
	server := setupTestServer(t)

	status := doJSON(t, server, http.MethodGet, "/api/assignments", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = doJSON(t, server, http.MethodGet, "/api/assignments", "bogus-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Browsing tasks stays public.
	status = doJSON(t, server, http.MethodGet, "/api/tasks", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

// TestRouter_EndToEnd walks the whole marketplace flow over HTTP: a
// client posts a task, binds a contractor, the work completes, an
// invoice is issued and paid through the development gateway, and the
// conversation picks up the system messages along the way.
func TestRouter_EndToEnd(t *testing.T) {
	server := setupTestServer(t)

	clientToken, client := registerTestUser(t, server, "maria@example.com", "client")
	contractorToken, contractor := registerTestUser(t, server, "jonas@example.com", "contractor")

	// Client posts a task.
	var task store.Task
	status := doJSON(t, server, http.MethodPost, "/api/tasks", clientToken, map[string]interface{}{
		"name":        "Fix the garden fence",
		"description": "Two panels blew over.",
		"price_cents": 12000,
	}, &task)
	require.Equal(t, http.StatusCreated, status)

	// Contractors cannot post tasks.
	status = doJSON(t, server, http.MethodPost, "/api/tasks", contractorToken, map[string]interface{}{
		"name":        "Nope",
		"price_cents": 1,
	}, nil)
	require.Equal(t, http.StatusForbidden, status)

	// The pair opens a conversation on the task.
	var conversation store.Conversation
	status = doJSON(t, server, http.MethodPost, "/api/conversations", clientToken, map[string]interface{}{
		"peer_id": contractor.ID,
		"task_id": task.ID,
	}, &conversation)
	require.Equal(t, http.StatusOK, status)

	// Client assigns the contractor.
	var assignment store.Assignment
	status = doJSON(t, server, http.MethodPost, "/api/assignments", clientToken, map[string]string{
		"task_id":       task.ID,
		"contractor_id": contractor.ID,
	}, &assignment)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, store.StatusNew, assignment.Status)

	// A second assignment for the same task conflicts.
	status = doJSON(t, server, http.MethodPost, "/api/assignments", clientToken, map[string]string{
		"task_id":       task.ID,
		"contractor_id": contractor.ID,
	}, nil)
	require.Equal(t, http.StatusConflict, status)

	statusPath := "/api/assignments/" + assignment.ID + "/status"

	// The client cannot start the work.
	status = doJSON(t, server, http.MethodPost, statusPath, clientToken, map[string]string{"status": store.StatusInProgress}, nil)
	require.Equal(t, http.StatusForbidden, status)

	// Contractor works the task, client signs off.
	status = doJSON(t, server, http.MethodPost, statusPath, contractorToken, map[string]string{"status": store.StatusInProgress}, nil)
	require.Equal(t, http.StatusOK, status)
	status = doJSON(t, server, http.MethodPost, statusPath, contractorToken, map[string]string{"status": store.StatusCompleted}, nil)
	require.Equal(t, http.StatusOK, status)
	status = doJSON(t, server, http.MethodPost, statusPath, clientToken, map[string]string{"status": store.StatusAccepted}, nil)
	require.Equal(t, http.StatusOK, status)

	// Contractor invoices the work.
	var invoice store.Invoice
	status = doJSON(t, server, http.MethodPost, "/api/invoices", contractorToken, map[string]interface{}{
		"assignment_id": assignment.ID,
		"items": []map[string]interface{}{
			{"description": "Fence panels", "quantity": 2, "unit_price_cents": 4500},
			{"description": "Labour", "quantity": 1, "unit_price_cents": 3000},
		},
	}, &invoice)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(12000), invoice.TotalCents)

	// Client pays through the development gateway.
	var payment PaymentResponse
	status = doJSON(t, server, http.MethodPost, "/api/payments", clientToken, map[string]interface{}{
		"invoice_ids":     []string{invoice.ID},
		"method":          store.MethodStripe,
		"idempotency_key": "e2e-pay-1",
	}, &payment)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(12000), payment.Payment.TotalCents)
	assert.NotEmpty(t, payment.ClientSecret)

	// Replaying the key returns the same payment instead of a conflict.
	var replay PaymentResponse
	status = doJSON(t, server, http.MethodPost, "/api/payments", clientToken, map[string]interface{}{
		"invoice_ids":     []string{invoice.ID},
		"method":          store.MethodStripe,
		"idempotency_key": "e2e-pay-1",
	}, &replay)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, payment.Payment.ID, replay.Payment.ID)

	var captured PaymentResponse
	status = doJSON(t, server, http.MethodPost, "/api/payments/"+payment.Payment.ID+"/capture", clientToken, nil, &captured)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, store.PaymentPaid, captured.Payment.Status)

	var paidInvoice store.Invoice
	status = doJSON(t, server, http.MethodGet, "/api/invoices/"+invoice.ID, clientToken, nil, &paidInvoice)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, store.InvoicePaid, paidInvoice.Status)

	// Both sides review.
	status = doJSON(t, server, http.MethodPost, "/api/assignments/"+assignment.ID+"/reviews", clientToken, map[string]interface{}{
		"rating":   5,
		"feedback": "Fence is solid again.",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	status = doJSON(t, server, http.MethodPost, "/api/assignments/"+assignment.ID+"/reviews", contractorToken, map[string]interface{}{
		"rating": 4,
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	var received store.ReceivedReviews
	status = doJSON(t, server, http.MethodGet, "/api/users/"+contractor.ID+"/reviews", "", nil, &received)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, received.Reviews, 1)
	assert.InDelta(t, 5.0, received.AverageRating, 0.001)

	// The conversation collected the workflow system messages.
	var messages MessagesResponse
	status = doJSON(t, server, http.MethodGet, "/api/conversations/"+conversation.ID+"/messages", clientToken, nil, &messages)
	require.Equal(t, http.StatusOK, status)

	systemCount := 0
	for _, message := range messages.Messages {
		if message.System {
			systemCount++
			assert.Nil(t, message.SenderID)
		}
	}
	// Three status changes, one invoice, two reviews.
	assert.Equal(t, 6, systemCount)

	_ = client
}

func TestRouter_ChatAndReadReceipts(t *testing.T) {
	server := setupTestServer(t)

	clientToken, _ := registerTestUser(t, server, "chat-client@example.com", "client")
	contractorToken, contractor := registerTestUser(t, server, "chat-contractor@example.com", "contractor")
	strangerToken, _ := registerTestUser(t, server, "stranger@example.com", "contractor")

	var conversation store.Conversation
	status := doJSON(t, server, http.MethodPost, "/api/conversations", clientToken, map[string]interface{}{
		"peer_id": contractor.ID,
	}, &conversation)
	require.Equal(t, http.StatusOK, status)

	var message store.Message
	status = doJSON(t, server, http.MethodPost, "/api/conversations/"+conversation.ID+"/messages", clientToken, map[string]string{
		"content": "Morning, any chance you are free Thursday?",
	}, &message)
	require.Equal(t, http.StatusCreated, status)
	assert.Nil(t, message.ReadAt)

	// Outsiders cannot read or write the thread.
	status = doJSON(t, server, http.MethodGet, "/api/conversations/"+conversation.ID+"/messages", strangerToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status = doJSON(t, server, http.MethodPost, "/api/conversations/"+conversation.ID+"/messages", strangerToken, map[string]string{
		"content": "hi",
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// The sender cannot mark their own message read.
	status = doJSON(t, server, http.MethodPost, "/api/messages/"+message.ID+"/read", clientToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var read store.Message
	status = doJSON(t, server, http.MethodPost, "/api/messages/"+message.ID+"/read", contractorToken, nil, &read)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, read.ReadAt)

	// Repeating keeps the original timestamp.
	var again store.Message
	status = doJSON(t, server, http.MethodPost, "/api/messages/"+message.ID+"/read", contractorToken, nil, &again)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, again.ReadAt)
	assert.True(t, again.ReadAt.Equal(*read.ReadAt))

	// Unread counts come from the summary listing.
	status = doJSON(t, server, http.MethodPost, "/api/conversations/"+conversation.ID+"/messages", contractorToken, map[string]string{
		"content": "Thursday works.",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	var inbox struct {
		Conversations []store.ConversationSummary `json:"conversations"`
	}
	status = doJSON(t, server, http.MethodGet, "/api/conversations", clientToken, nil, &inbox)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, inbox.Conversations, 1)
	assert.Equal(t, 1, inbox.Conversations[0].UnreadCount)

	var marked struct {
		MarkedRead int64 `json:"marked_read"`
	}
	status = doJSON(t, server, http.MethodPost, "/api/conversations/"+conversation.ID+"/read", clientToken, nil, &marked)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), marked.MarkedRead)
}

func TestRouter_TaskVisibility(t *testing.T) {
	server := setupTestServer(t)

	clientToken, _ := registerTestUser(t, server, "vis-client@example.com", "client")
	otherToken, _ := registerTestUser(t, server, "vis-other@example.com", "client")

	var task store.Task
	status := doJSON(t, server, http.MethodPost, "/api/tasks", clientToken, map[string]interface{}{
		"name":        "Clean the gutters",
		"price_cents": 4000,
	}, &task)
	require.Equal(t, http.StatusCreated, status)

	status = doJSON(t, server, http.MethodPost, "/api/tasks/"+task.ID+"/archive", clientToken, nil, nil)
	require.Equal(t, http.StatusOK, status)

	// Gone from the public listing and detail view.
	var listing TasksResponse
	status = doJSON(t, server, http.MethodGet, "/api/tasks", "", nil, &listing)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, listing.Tasks)

	status = doJSON(t, server, http.MethodGet, "/api/tasks/"+task.ID, otherToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Still visible to the owner.
	status = doJSON(t, server, http.MethodGet, "/api/tasks/"+task.ID, clientToken, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	// Only the owner can edit.
	status = doJSON(t, server, http.MethodPatch, "/api/tasks/"+task.ID, otherToken, map[string]interface{}{
		"name": "Hijacked",
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestRouter_RejectedInputStatusCodes(t *testing.T) {
	server := setupTestServer(t)

	clientToken, client := registerTestUser(t, server, "codes-client@example.com", "client")
	_, contractor := registerTestUser(t, server, "codes-contractor@example.com", "contractor")

	var task store.Task
	status := doJSON(t, server, http.MethodPost, "/api/tasks", clientToken, map[string]interface{}{
		"name":        "Repaint the shed",
		"price_cents": 9000,
	}, &task)
	require.Equal(t, http.StatusCreated, status)

	// A client cannot assign their own task to themselves.
	status = doJSON(t, server, http.MethodPost, "/api/assignments", clientToken, map[string]string{
		"task_id":       task.ID,
		"contractor_id": client.ID,
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	// Conversations need a real counterpart.
	status = doJSON(t, server, http.MethodPost, "/api/conversations", clientToken, map[string]string{
		"peer_id": client.ID,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, server, http.MethodPost, "/api/conversations", clientToken, map[string]string{
		"peer_id": "1db87290-11cc-4a05-a671-48ce99e10101",
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var conversation store.Conversation
	status = doJSON(t, server, http.MethodPost, "/api/conversations", clientToken, map[string]string{
		"peer_id": contractor.ID,
	}, &conversation)
	require.Equal(t, http.StatusOK, status)

	// Blank messages are rejected, not swallowed.
	status = doJSON(t, server, http.MethodPost, "/api/conversations/"+conversation.ID+"/messages", clientToken, map[string]string{
		"content": "   ",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Payment input validation surfaces as bad requests.
	status = doJSON(t, server, http.MethodPost, "/api/payments", clientToken, map[string]interface{}{
		"invoice_ids":     []string{},
		"method":          "stripe",
		"idempotency_key": "codes-1",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, server, http.MethodPost, "/api/payments", clientToken, map[string]interface{}{
		"invoice_ids":     []string{"1db87290-11cc-4a05-a671-48ce99e10101"},
		"method":          "stripe",
		"idempotency_key": "   ",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
