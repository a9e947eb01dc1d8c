package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Conversation is the chat thread between a client and a contractor,
// optionally pinned to a task.
type Conversation struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	ContractorID string    `json:"contractor_id"`
	TaskID       *string   `json:"task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one chat entry. System messages carry no sender and are
// injected by workflow events (status changes, invoices, reviews).
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       *string    `json:"sender_id,omitempty"`
	Content        string     `json:"content"`
	ImageURL       *string    `json:"image_url,omitempty"`
	System         bool       `json:"system"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ConversationSummary is a thread in the caller's inbox: the thread,
// its derived unread count, and its latest message.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	UnreadCount  int          `json:"unread_count"`
	LastMessage  *Message     `json:"last_message,omitempty"`
}

// ConversationStore provides access to conversations and messages.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a new ConversationStore.
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

const conversationSelectColumns = "id, client_id, contractor_id, task_id, created_at, updated_at"
const messageSelectColumns = "id, conversation_id, sender_id, content, image_url, system, read_at, created_at"

// GetOrCreate finds or creates the thread between two users for an
// optional task. The caller may be either party; a thread always pairs
// one client with one contractor, and their actual roles decide which
// column each participant lands in.
func (s *ConversationStore) GetOrCreate(ctx context.Context, callerID, callerRole, peerID string, taskID *string) (*Conversation, error) {
	if callerID == peerID {
		return nil, fmt.Errorf("cannot start a conversation with yourself: %w", ErrInvalid)
	}

	var peerRole string
	err := s.db.QueryRowContext(ctx, "SELECT role FROM users WHERE id = $1", peerID).Scan(&peerRole)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("peer %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load peer: %w", err)
	}

	var clientID, contractorID string
	switch {
	case callerRole == RoleClient && peerRole == RoleContractor:
		clientID, contractorID = callerID, peerID
	case callerRole == RoleContractor && peerRole == RoleClient:
		clientID, contractorID = peerID, callerID
	default:
		return nil, fmt.Errorf("a conversation pairs a client with a contractor: %w", ErrInvalid)
	}

	conversation, err := scanConversation(s.db.QueryRowContext(
		ctx,
		`INSERT INTO conversations (client_id, contractor_id, task_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (client_id, contractor_id, COALESCE(task_id, '00000000-0000-0000-0000-000000000000'::uuid))
		 DO UPDATE SET updated_at = now()
		 RETURNING `+conversationSelectColumns,
		clientID, contractorID, nullableString(taskID),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create conversation: %w", err)
	}
	return &conversation, nil
}

// GetByID retrieves a conversation by ID.
func (s *ConversationStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	conversation, err := scanConversation(s.db.QueryRowContext(
		ctx,
		"SELECT "+conversationSelectColumns+" FROM conversations WHERE id = $1",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conversation, nil
}

// FindForTask returns the thread pinned to a task between two users,
// or ErrNotFound.
func (s *ConversationStore) FindForTask(ctx context.Context, clientID, contractorID, taskID string) (*Conversation, error) {
	conversation, err := scanConversation(s.db.QueryRowContext(
		ctx,
		`SELECT `+conversationSelectColumns+` FROM conversations
		 WHERE client_id = $1 AND contractor_id = $2 AND task_id = $3`,
		clientID, contractorID, taskID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return &conversation, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if !ValidID(conversationID) {
		return false, nil
	}
	var ok bool
	err := s.db.QueryRowContext(
		ctx,
		`SELECT EXISTS (
			SELECT 1 FROM conversations
			WHERE id = $1 AND (client_id = $2 OR contractor_id = $2)
		)`,
		conversationID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check participation: %w", err)
	}
	return ok, nil
}

// CanJoinConversation gates websocket room joins on membership.
func (s *ConversationStore) CanJoinConversation(ctx context.Context, userID, conversationID string) (bool, error) {
	return s.IsParticipant(ctx, conversationID, userID)
}

// ListForUser returns the user's threads, most recent activity first,
// with unread counts derived from read_at IS NULL on incoming messages.
func (s *ConversationStore) ListForUser(ctx context.Context, userID string) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT
			c.id, c.client_id, c.contractor_id, c.task_id, c.created_at, c.updated_at,
			COALESCE(u.unread, 0),
			m.id, m.conversation_id, m.sender_id, m.content, m.image_url, m.system, m.read_at, m.created_at
		 FROM conversations c
		 LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread FROM messages
			WHERE conversation_id = c.id
			  AND read_at IS NULL
			  AND (sender_id IS NULL OR sender_id <> $1)
		 ) u ON TRUE
		 LEFT JOIN LATERAL (
			SELECT * FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		 ) m ON TRUE
		 WHERE c.client_id = $1 OR c.contractor_id = $1
		 ORDER BY COALESCE(m.created_at, c.created_at) DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]ConversationSummary, 0)
	for rows.Next() {
		var (
			summary   ConversationSummary
			taskID    sql.NullString
			msgID     sql.NullString
			msgConvID sql.NullString
			senderID  sql.NullString
			content   sql.NullString
			imageURL  sql.NullString
			system    sql.NullBool
			readAt    sql.NullTime
			createdAt sql.NullTime
		)
		err := rows.Scan(
			&summary.Conversation.ID,
			&summary.Conversation.ClientID,
			&summary.Conversation.ContractorID,
			&taskID,
			&summary.Conversation.CreatedAt,
			&summary.Conversation.UpdatedAt,
			&summary.UnreadCount,
			&msgID, &msgConvID, &senderID, &content, &imageURL, &system, &readAt, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation summary: %w", err)
		}
		if taskID.Valid {
			summary.Conversation.TaskID = &taskID.String
		}
		if msgID.Valid {
			message := Message{
				ID:             msgID.String,
				ConversationID: msgConvID.String,
				Content:        content.String,
				System:         system.Bool,
				CreatedAt:      createdAt.Time,
			}
			if senderID.Valid {
				message.SenderID = &senderID.String
			}
			if imageURL.Valid {
				message.ImageURL = &imageURL.String
			}
			if readAt.Valid {
				message.ReadAt = &readAt.Time
			}
			summary.LastMessage = &message
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading conversations: %w", err)
	}
	return summaries, nil
}

// CreateMessage appends a user message to a conversation. The sender
// must be a participant.
func (s *ConversationStore) CreateMessage(ctx context.Context, conversationID, senderID, content string, imageURL *string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && (imageURL == nil || strings.TrimSpace(*imageURL) == "") {
		return nil, fmt.Errorf("message content is required: %w", ErrInvalid)
	}

	ok, err := s.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	message, err := scanMessage(s.db.QueryRowContext(
		ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, image_url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+messageSelectColumns,
		conversationID, senderID, content, nullableString(imageURL),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &message, nil
}

// CreateSystemMessage injects a workflow notification into a thread.
func (s *ConversationStore) CreateSystemMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	message, err := scanMessage(s.db.QueryRowContext(
		ctx,
		`INSERT INTO messages (conversation_id, content, system)
		 VALUES ($1, $2, TRUE)
		 RETURNING `+messageSelectColumns,
		conversationID, content,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create system message: %w", err)
	}
	return &message, nil
}

// ListMessages returns a conversation page, newest first, with keyset
// pagination on (created_at, id).
func (s *ConversationStore) ListMessages(
	ctx context.Context,
	conversationID string,
	limit int,
	beforeCreatedAt *time.Time,
	beforeID *string,
) ([]Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	where := "WHERE conversation_id = $1"
	args := []interface{}{conversationID}
	if beforeCreatedAt != nil && beforeID != nil && strings.TrimSpace(*beforeID) != "" {
		where += " AND (created_at, id) < ($2, $3)"
		args = append(args, beforeCreatedAt.UTC(), strings.TrimSpace(*beforeID))
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(
		ctx,
		"SELECT "+messageSelectColumns+" FROM messages "+where+
			fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)),
		args...,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit+1)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error reading messages: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	return messages, hasMore, nil
}

// GetMessage retrieves a single message.
func (s *ConversationStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	message, err := scanMessage(s.db.QueryRowContext(
		ctx,
		"SELECT "+messageSelectColumns+" FROM messages WHERE id = $1",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &message, nil
}

// MarkMessageRead sets read_at on a message if it is still unset. The
// operation is idempotent: concurrent calls from multiple tabs all see
// the first recorded timestamp. Senders cannot read their own messages.
func (s *ConversationStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (*Message, error) {
	message, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	ok, err := s.IsParticipant(ctx, message.ConversationID, readerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	if message.SenderID != nil && *message.SenderID == readerID {
		return nil, ErrForbidden
	}

	// First writer wins; later calls fall through to the stored value.
	result, err := s.db.ExecContext(
		ctx,
		"UPDATE messages SET read_at = now() WHERE id = $1 AND read_at IS NULL",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark message read: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return message, nil
	}

	return s.GetMessage(ctx, messageID)
}

// MarkConversationRead marks every unread incoming message in the
// thread as read. Returns how many messages flipped.
func (s *ConversationStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	ok, err := s.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrForbidden
	}

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE messages SET read_at = now()
		 WHERE conversation_id = $1
		   AND read_at IS NULL
		   AND (sender_id IS NULL OR sender_id <> $2)`,
		conversationID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count read messages: %w", err)
	}
	return n, nil
}

// UnreadCount derives the user's unread message count for one thread.
func (s *ConversationStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = $1
		   AND read_at IS NULL
		   AND (sender_id IS NULL OR sender_id <> $2)`,
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

func scanConversation(scanner interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	var taskID sql.NullString

	err := scanner.Scan(
		&c.ID,
		&c.ClientID,
		&c.ContractorID,
		&taskID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	if taskID.Valid {
		c.TaskID = &taskID.String
	}
	return c, nil
}

func scanMessage(scanner interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var senderID sql.NullString
	var imageURL sql.NullString
	var readAt sql.NullTime

	err := scanner.Scan(
		&m.ID,
		&m.ConversationID,
		&senderID,
		&m.Content,
		&imageURL,
		&m.System,
		&readAt,
		&m.CreatedAt,
	)
	if err != nil {
		return m, err
	}
	if senderID.Valid {
		m.SenderID = &senderID.String
	}
	if imageURL.Valid {
		m.ImageURL = &imageURL.String
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	return m, nil
}
