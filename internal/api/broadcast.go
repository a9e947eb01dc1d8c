package api

import (
	"encoding/json"
	"log"
	"time"

	"github.com/taskyard/taskyard/internal/store"
	"github.com/taskyard/taskyard/internal/ws"
)

// Broadcaster pushes typed events to conversation rooms. A nil
// Broadcaster is valid and drops every event, which keeps handler
// tests free of hub plumbing.
type Broadcaster struct {
	Hub *ws.Hub
}

type newMessageEvent struct {
	Type    ws.EventType   `json:"type"`
	Message *store.Message `json:"message"`
}

type messageReadEvent struct {
	Type           ws.EventType `json:"type"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"`
	ReaderID       string       `json:"reader_id"`
	ReadAt         time.Time    `json:"read_at"`
}

type assignmentStatusEvent struct {
	Type         ws.EventType `json:"type"`
	AssignmentID string       `json:"assignment_id"`
	TaskID       string       `json:"task_id"`
	Status       string       `json:"status"`
	ChangedBy    string       `json:"changed_by"`
}

// NewMessage announces a freshly stored message, system or human, to
// everyone joined to its conversation.
func (b *Broadcaster) NewMessage(message *store.Message) {
	if b == nil || b.Hub == nil || message == nil {
		return
	}
	b.send(message.ConversationID, newMessageEvent{
		Type:    ws.EventNewMessage,
		Message: message,
	})
}

// MessageRead announces a read receipt. MessageID is empty for a bulk
// conversation-level mark-read.
func (b *Broadcaster) MessageRead(conversationID, messageID, readerID string, readAt time.Time) {
	if b == nil || b.Hub == nil {
		return
	}
	b.send(conversationID, messageReadEvent{
		Type:           ws.EventMessageRead,
		ConversationID: conversationID,
		MessageID:      messageID,
		ReaderID:       readerID,
		ReadAt:         readAt,
	})
}

// AssignmentStatus announces a workflow transition to the assignment's
// conversation, if one exists.
func (b *Broadcaster) AssignmentStatus(conversationID string, assignment *store.Assignment, changedBy string) {
	if b == nil || b.Hub == nil || conversationID == "" || assignment == nil {
		return
	}
	b.send(conversationID, assignmentStatusEvent{
		Type:         ws.EventAssignmentStatus,
		AssignmentID: assignment.ID,
		TaskID:       assignment.TaskID,
		Status:       assignment.Status,
		ChangedBy:    changedBy,
	})
}

func (b *Broadcaster) send(conversationID string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal websocket event: %v", err)
		return
	}
	b.Hub.BroadcastRoom(ws.ConversationRoom(conversationID), payload)
}
