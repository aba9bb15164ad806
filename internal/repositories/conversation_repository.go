package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMemberNotFound       = errors.New("conversation member not found")
)

const conversationColumns = `id, kind, user1_id, user2_id, last_seq, last_message_at, created_at`

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	FindDirect(ctx context.Context, user1ID, user2ID int64) (models.Conversation, error)
	CreateIfAbsent(ctx context.Context, kind models.ConversationKind, user1ID, user2ID int64) (models.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error)
	GetMember(ctx context.Context, conversationID, userID int64) (models.Member, error)
	ListForUser(ctx context.Context, userID int64, filter models.ListFilter) ([]models.MembershipRow, error)
	SetPinned(ctx context.Context, conversationID, userID int64, at *time.Time) error
	SetArchived(ctx context.Context, conversationID, userID int64, at *time.Time) error
	SetDeleted(ctx context.Context, conversationID, userID int64, at *time.Time) error
	AdvanceReadMarker(ctx context.Context, conversationID, userID, uptoSeq int64) (int64, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// FindDirect looks up the conversation of a canonical pair.
func (r *ConversationRepo) FindDirect(ctx context.Context, user1ID, user2ID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE user1_id=$1 AND user2_id=$2`, user1ID, user2ID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// CreateIfAbsent inserts the conversation for a canonical pair unless one exists.
// The boolean reports whether this call created it.
func (r *ConversationRepo) CreateIfAbsent(ctx context.Context, kind models.ConversationKind, user1ID, user2ID int64) (conv models.Conversation, created bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (kind, user1_id, user2_id) VALUES ($1, $2, $3)
        ON CONFLICT (user1_id, user2_id) DO NOTHING
        RETURNING `+conversationColumns, kind, user1ID, user2ID)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, sql.ErrNoRows):
		// lost the race; the winner's row is visible to the next statement
		if err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE user1_id=$1 AND user2_id=$2`, user1ID, user2ID); err != nil {
			return models.Conversation{}, false, err
		}
	default:
		return models.Conversation{}, false, err
	}

	if created {
		for _, userID := range []int64{user1ID, user2ID} {
			if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
                ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, userID); err != nil {
				return models.Conversation{}, false, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetMember fetches the per-participant state.
func (r *ConversationRepo) GetMember(ctx context.Context, conversationID, userID int64) (models.Member, error) {
	var member models.Member
	err := r.db.GetContext(ctx, &member, `SELECT conversation_id, user_id, pinned_at, archived_at, deleted_at, last_read_seq
        FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Member{}, ErrMemberNotFound
	}
	return member, err
}

// ListForUser returns the conversations the user has not deleted, split by archive state.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64, filter models.ListFilter) ([]models.MembershipRow, error) {
	archived := "cm.archived_at IS NULL"
	if filter == models.ListArchived {
		archived = "cm.archived_at IS NOT NULL"
	}
	query := `SELECT c.id, c.kind, c.user1_id, c.user2_id, c.last_seq, c.last_message_at, c.created_at,
            cm.pinned_at, cm.archived_at, cm.last_read_seq
        FROM conversations c
        INNER JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1
        WHERE cm.deleted_at IS NULL AND ` + archived + `
        ORDER BY c.id DESC`

	var rows []models.MembershipRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetPinned sets or clears the pin timestamp.
func (r *ConversationRepo) SetPinned(ctx context.Context, conversationID, userID int64, at *time.Time) error {
	return r.updateMember(ctx, `UPDATE conversation_members SET pinned_at=$3 WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at)
}

// SetArchived sets or clears the archive timestamp.
func (r *ConversationRepo) SetArchived(ctx context.Context, conversationID, userID int64, at *time.Time) error {
	return r.updateMember(ctx, `UPDATE conversation_members SET archived_at=$3 WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at)
}

// SetDeleted hides (or restores) the conversation for one participant.
func (r *ConversationRepo) SetDeleted(ctx context.Context, conversationID, userID int64, at *time.Time) error {
	return r.updateMember(ctx, `UPDATE conversation_members SET deleted_at=$3 WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at)
}

// AdvanceReadMarker moves the read marker forward, capped at the conversation's last seq.
func (r *ConversationRepo) AdvanceReadMarker(ctx context.Context, conversationID, userID, uptoSeq int64) (int64, error) {
	var marker int64
	err := r.db.GetContext(ctx, &marker, `UPDATE conversation_members cm
        SET last_read_seq = GREATEST(cm.last_read_seq, LEAST($3, c.last_seq))
        FROM conversations c
        WHERE c.id = cm.conversation_id AND cm.conversation_id=$1 AND cm.user_id=$2
        RETURNING cm.last_read_seq`, conversationID, userID, uptoSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMemberNotFound
	}
	return marker, err
}

func (r *ConversationRepo) updateMember(ctx context.Context, query string, conversationID, userID int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx, query, conversationID, userID, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMemberNotFound
	}
	return nil
}
