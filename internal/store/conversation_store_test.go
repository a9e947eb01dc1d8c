package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStore_GetOrCreate(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	task := createTestTask(t, db, client.ID, 1000)

	first, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, contractor.ID, &task.ID)
	require.NoError(t, err)
	assert.Equal(t, client.ID, first.ClientID)
	assert.Equal(t, contractor.ID, first.ContractorID)
	require.NotNil(t, first.TaskID)
	assert.Equal(t, task.ID, *first.TaskID)

	// Same thread regardless of which side asks.
	second, err := conversations.GetOrCreate(ctx(), contractor.ID, contractor.Role, client.ID, &task.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A task-less thread between the same pair is distinct.
	general, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, contractor.ID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, general.ID)
	assert.Nil(t, general.TaskID)
}

func TestConversationStore_GetOrCreate_SelfTalk(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)

	_, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, client.ID, nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestConversationStore_GetOrCreate_PeerValidation(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)
	otherClient := createTestUser(t, db, RoleClient)

	// The peer must exist.
	_, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, "1db87290-11cc-4a05-a671-48ce99e10101", nil)
	require.ErrorIs(t, err, ErrNotFound)

	// Two clients cannot open a thread with each other.
	_, err = conversations.GetOrCreate(ctx(), client.ID, client.Role, otherClient.ID, nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestConversationStore_Messages(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	conversation, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, contractor.ID, nil)
	require.NoError(t, err)

	message, err := conversations.CreateMessage(ctx(), conversation.ID, client.ID, "Hello there", nil)
	require.NoError(t, err)
	require.NotNil(t, message.SenderID)
	assert.Equal(t, client.ID, *message.SenderID)
	assert.False(t, message.System)
	assert.Nil(t, message.ReadAt)

	stranger := createTestUser(t, db, RoleContractor)
	_, err = conversations.CreateMessage(ctx(), conversation.ID, stranger.ID, "let me in", nil)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = conversations.CreateMessage(ctx(), conversation.ID, client.ID, "   ", nil)
	require.ErrorIs(t, err, ErrInvalid)

	system, err := conversations.CreateSystemMessage(ctx(), conversation.ID, "Work started")
	require.NoError(t, err)
	assert.True(t, system.System)
	assert.Nil(t, system.SenderID)
}

func TestConversationStore_MarkMessageRead_Idempotent(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	conversation, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, contractor.ID, nil)
	require.NoError(t, err)

	message, err := conversations.CreateMessage(ctx(), conversation.ID, client.ID, "ping", nil)
	require.NoError(t, err)

	// The sender cannot mark their own message read.
	_, err = conversations.MarkMessageRead(ctx(), message.ID, client.ID)
	require.ErrorIs(t, err, ErrForbidden)

	read, err := conversations.MarkMessageRead(ctx(), message.ID, contractor.ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
	firstReadAt := *read.ReadAt

	time.Sleep(5 * time.Millisecond)

	again, err := conversations.MarkMessageRead(ctx(), message.ID, contractor.ID)
	require.NoError(t, err)
	require.NotNil(t, again.ReadAt)
	assert.True(t, again.ReadAt.Equal(firstReadAt), "read_at must not move on repeat calls")
}

func TestConversationStore_UnreadCounts(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	conversation, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, contractor.ID, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = conversations.CreateMessage(ctx(), conversation.ID, client.ID, "msg", nil)
		require.NoError(t, err)
	}
	_, err = conversations.CreateSystemMessage(ctx(), conversation.ID, "Invoice issued")
	require.NoError(t, err)

	// Incoming plus system messages count for the contractor.
	count, err := conversations.UnreadCount(ctx(), conversation.ID, contractor.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// The sender's own messages never count against them.
	count, err = conversations.UnreadCount(ctx(), conversation.ID, client.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	marked, err := conversations.MarkConversationRead(ctx(), conversation.ID, contractor.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), marked)

	count, err = conversations.UnreadCount(ctx(), conversation.ID, contractor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	marked, err = conversations.MarkConversationRead(ctx(), conversation.ID, contractor.ID)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestConversationStore_ListForUser(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	other := createTestUser(t, db, RoleContractor)

	first, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, contractor.ID, nil)
	require.NoError(t, err)
	second, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, other.ID, nil)
	require.NoError(t, err)

	_, err = conversations.CreateMessage(ctx(), first.ID, contractor.ID, "older", nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	latest, err := conversations.CreateMessage(ctx(), second.ID, other.ID, "newest", nil)
	require.NoError(t, err)

	summaries, err := conversations.ListForUser(ctx(), client.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, second.ID, summaries[0].Conversation.ID)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, latest.ID, summaries[0].LastMessage.ID)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	assert.Equal(t, 1, summaries[1].UnreadCount)
}

func TestConversationStore_ListMessages_Pagination(t *testing.T) {
	db := setupTestDatabase(t)
	conversations := NewConversationStore(db)

	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	conversation, err := conversations.GetOrCreate(ctx(), client.ID, client.Role, contractor.ID, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = conversations.CreateMessage(ctx(), conversation.ID, client.ID, "msg", nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	page, hasMore, err := conversations.ListMessages(ctx(), conversation.ID, 3, nil, nil)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.True(t, hasMore)

	cursor := page[len(page)-1]
	rest, hasMore, err := conversations.ListMessages(ctx(), conversation.ID, 10, &cursor.CreatedAt, &cursor.ID)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.False(t, hasMore)
}
