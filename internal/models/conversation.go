package models

import "time"

// ConversationKind distinguishes user-initiated conversations from ones opened by an administrator broadcast.
type ConversationKind string

const (
	KindDirect    ConversationKind = "direct"
	KindBroadcast ConversationKind = "broadcast"
)

// Conversation represents a conversation between exactly two users.
// User1ID is always the smaller id of the pair.
type Conversation struct {
	ID            int64            `db:"id" json:"id"`
	Kind          ConversationKind `db:"kind" json:"kind"`
	User1ID       int64            `db:"user1_id" json:"user1_id"`
	User2ID       int64            `db:"user2_id" json:"user2_id"`
	LastSeq       int64            `db:"last_seq" json:"last_seq"`
	LastMessageAt *time.Time       `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID int64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Peer returns the other participant for userID.
func (c Conversation) Peer(userID int64) (int64, bool) {
	switch userID {
	case c.User1ID:
		return c.User2ID, true
	case c.User2ID:
		return c.User1ID, true
	}
	return 0, false
}

// CanonicalPair orders two user ids so a pair maps to exactly one conversation row.
func CanonicalPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// Member holds the per-participant state of a conversation.
type Member struct {
	ConversationID int64      `db:"conversation_id" json:"conversation_id"`
	UserID         int64      `db:"user_id" json:"user_id"`
	PinnedAt       *time.Time `db:"pinned_at" json:"pinned_at,omitempty"`
	ArchivedAt     *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
	LastReadSeq    int64      `db:"last_read_seq" json:"last_read_seq"`
}

// MembershipRow is a conversation joined with the caller's member row.
type MembershipRow struct {
	Conversation
	PinnedAt    *time.Time `db:"pinned_at"`
	ArchivedAt  *time.Time `db:"archived_at"`
	LastReadSeq int64      `db:"last_read_seq"`
}

// ListFilter selects which conversations a list call returns.
type ListFilter string

const (
	ListActive   ListFilter = "active"
	ListArchived ListFilter = "archived"
)

// ParseListFilter maps a query value to a ListFilter; empty means active.
func ParseListFilter(raw string) (ListFilter, bool) {
	switch ListFilter(raw) {
	case "", ListActive:
		return ListActive, true
	case ListArchived:
		return ListArchived, true
	}
	return "", false
}

// PeerSnapshot is the identity of the other participant as shown in a conversation list.
type PeerSnapshot struct {
	UserID      int64       `json:"user_id"`
	DisplayName string      `json:"display_name"`
	ProfileType ProfileType `json:"profile_type,omitempty"`
	Placeholder bool        `json:"placeholder,omitempty"`
}

// MessagePreview is the truncated last message of a conversation.
type MessagePreview struct {
	MessageID int64     `json:"message_id"`
	SenderID  int64     `json:"sender_id"`
	Seq       int64     `json:"seq"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary provides an API-friendly view of a conversation for one user.
type ConversationSummary struct {
	ConversationID int64            `json:"conversation_id"`
	Kind           ConversationKind `json:"kind"`
	Peer           PeerSnapshot     `json:"peer"`
	LastMessage    *MessagePreview  `json:"last_message,omitempty"`
	LastMessageAt  *time.Time       `json:"last_message_at,omitempty"`
	UnreadCount    int              `json:"unread_count"`
	Blocked        bool             `json:"blocked"`
	PinnedAt       *time.Time       `json:"pinned_at,omitempty"`
	ArchivedAt     *time.Time       `json:"archived_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
