package models

import (
	"time"

	"github.com/lib/pq"
)

// Message represents a message in a conversation. Seq is gap-free per conversation.
type Message struct {
	ID             int64          `db:"id" json:"id"`
	ConversationID int64          `db:"conversation_id" json:"conversation_id"`
	SenderID       int64          `db:"sender_id" json:"sender_id"`
	Seq            int64          `db:"seq" json:"seq"`
	Content        string         `db:"content" json:"content"`
	Attachments    pq.StringArray `db:"attachments" json:"attachments,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	DeletedAt      *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
}

// AppendParams describes one append to a conversation.
type AppendParams struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Attachments    []string
	// EnforceReplyGate rejects the append when the latest message is already the sender's.
	EnforceReplyGate bool
}

// ConversationEvent is pushed to websocket subscribers of a conversation.
type ConversationEvent struct {
	Type           string   `json:"type"`
	ConversationID int64    `json:"conversation_id"`
	Message        *Message `json:"message,omitempty"`
	MessageID      int64    `json:"message_id,omitempty"`
	UserID         int64    `json:"user_id,omitempty"`
}

const (
	EventMessage       = "message"
	EventMessageDelete = "message.deleted"
	EventTypingStart   = "typing.start"
	EventTypingStop    = "typing.stop"
)
