package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// BlockRepository persists directional block relationships.
type BlockRepository interface {
	IsBlockedEither(ctx context.Context, userA, userB int64) (bool, error)
	BlockedAmong(ctx context.Context, userID int64, peerIDs []int64) (map[int64]bool, error)
	Block(ctx context.Context, blockerID, blockedID int64) error
	Unblock(ctx context.Context, blockerID, blockedID int64) error
}

// BlockRepo is a sqlx implementation of BlockRepository.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// IsBlockedEither reports whether a block exists in either direction.
func (r *BlockRepo) IsBlockedEither(ctx context.Context, userA, userB int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM blocks
        WHERE (blocker_id=$1 AND blocked_id=$2) OR (blocker_id=$2 AND blocked_id=$1))`, userA, userB)
	return exists, err
}

// BlockedAmong returns the peers that are in a block relationship with userID, in either direction.
func (r *BlockRepo) BlockedAmong(ctx context.Context, userID int64, peerIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(peerIDs))
	if len(peerIDs) == 0 {
		return result, nil
	}
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT blocked_id FROM blocks WHERE blocker_id=$1 AND blocked_id = ANY($2)
        UNION
        SELECT blocker_id FROM blocks WHERE blocked_id=$1 AND blocker_id = ANY($2)`, userID, pq.Array(peerIDs))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}

// Block records that blockerID blocks blockedID.
func (r *BlockRepo) Block(ctx context.Context, blockerID, blockedID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2)
        ON CONFLICT (blocker_id, blocked_id) DO NOTHING`, blockerID, blockedID)
	return err
}

// Unblock removes the relationship; removing a missing block is not an error.
func (r *BlockRepo) Unblock(ctx context.Context, blockerID, blockedID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE blocker_id=$1 AND blocked_id=$2`, blockerID, blockedID)
	return err
}
