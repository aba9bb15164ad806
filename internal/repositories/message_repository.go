package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	// ErrReplyGateClosed is returned by Append when the latest message already belongs to the sender.
	ErrReplyGateClosed = errors.New("reply gate closed")
)

const messageColumns = `id, conversation_id, sender_id, seq, content, attachments, created_at, deleted_at`

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	Append(ctx context.Context, params models.AppendParams) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListMessages(ctx context.Context, conversationID, beforeSeq int64, limit int) ([]models.Message, error)
	SoftDelete(ctx context.Context, messageID, senderID int64, at time.Time) error
	LatestMessages(ctx context.Context, conversationIDs []int64) (map[int64]models.Message, error)
	UnreadCounts(ctx context.Context, userID int64, conversationIDs []int64) (map[int64]int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message with the next sequence number of its conversation.
// The conversation row is locked for the whole transaction so the reply-gate
// check and the insert cannot interleave with another append.
func (r *MessageRepo) Append(ctx context.Context, params models.AppendParams) (msg models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var lastSeq int64
	if err = tx.GetContext(ctx, &lastSeq, `SELECT last_seq FROM conversations WHERE id=$1 FOR UPDATE`, params.ConversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrConversationNotFound
		}
		return models.Message{}, err
	}

	if params.EnforceReplyGate {
		var lastSender int64
		err = tx.GetContext(ctx, &lastSender, `SELECT sender_id FROM messages
            WHERE conversation_id=$1 AND deleted_at IS NULL
            ORDER BY seq DESC LIMIT 1`, params.ConversationID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = nil
		case err != nil:
			return models.Message{}, err
		case lastSender == params.SenderID:
			err = ErrReplyGateClosed
			return models.Message{}, err
		}
	}

	attachments := pq.StringArray(params.Attachments)
	if attachments == nil {
		attachments = pq.StringArray{}
	}
	if err = tx.GetContext(ctx, &msg, `INSERT INTO messages (conversation_id, sender_id, seq, content, attachments)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+messageColumns, params.ConversationID, params.SenderID, lastSeq+1, params.Content, attachments); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET last_seq=$2, last_message_at=$3 WHERE id=$1`, params.ConversationID, msg.Seq, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	// a new message brings the conversation back for participants who deleted it
	if _, err = tx.ExecContext(ctx, `UPDATE conversation_members SET deleted_at = NULL WHERE conversation_id=$1 AND deleted_at IS NOT NULL`, params.ConversationID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// before_seq is cast to bigint; otherwise Postgres types $2 as int4 from the literal.
const listMessagesQuery = `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1 AND deleted_at IS NULL AND ($2::bigint <= 0 OR seq < $2::bigint)
        ORDER BY seq DESC
        LIMIT $3`

// ListMessages returns up to limit non-deleted messages with seq < beforeSeq in ascending order.
// beforeSeq <= 0 starts from the newest message.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID, beforeSeq int64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, listMessagesQuery, conversationID, beforeSeq, limit); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SoftDelete marks a message deleted (sender only).
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, senderID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_at=$3 WHERE id=$1 AND sender_id=$2 AND deleted_at IS NULL`, messageID, senderID, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// LatestMessages returns the newest non-deleted message per conversation.
func (r *MessageRepo) LatestMessages(ctx context.Context, conversationIDs []int64) (map[int64]models.Message, error) {
	result := make(map[int64]models.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT DISTINCT ON (conversation_id) `+messageColumns+`
        FROM messages
        WHERE conversation_id = ANY($1) AND deleted_at IS NULL
        ORDER BY conversation_id, seq DESC`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.ConversationID] = m
	}
	return result, nil
}

// UnreadCounts counts peer-authored messages past the user's read marker.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID int64, conversationIDs []int64) (map[int64]int, error) {
	result := make(map[int64]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT m.conversation_id, COUNT(*) FROM messages m
        INNER JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id = $1
        WHERE m.conversation_id = ANY($2)
        AND m.sender_id <> $1
        AND m.deleted_at IS NULL
        AND m.seq > cm.last_read_seq
        GROUP BY m.conversation_id`, userID, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var conversationID int64
		var count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, err
		}
		result[conversationID] = count
	}
	return result, rows.Err()
}
