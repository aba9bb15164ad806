package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrJobNotFound = errors.New("broadcast job not found")

const jobColumns = `id, admin_id, filter, content, status, sent_count, error_count, skipped_count, started_at, finished_at`

// BroadcastRepository persists broadcast jobs and their per-recipient deliveries.
type BroadcastRepository interface {
	CreateJob(ctx context.Context, job models.BroadcastJob) (models.BroadcastJob, bool, error)
	GetJob(ctx context.Context, jobID string) (models.BroadcastJob, error)
	FinishJob(ctx context.Context, result models.BroadcastResult, at time.Time) error
	ClaimDelivery(ctx context.Context, jobID string, recipientID int64) (bool, error)
	CompleteDelivery(ctx context.Context, jobID string, recipientID, messageID int64) error
	FailDelivery(ctx context.Context, jobID string, recipientID int64, reason string) error
}

// BroadcastRepo is a sqlx implementation of BroadcastRepository.
type BroadcastRepo struct {
	db *sqlx.DB
}

// NewBroadcastRepo constructs a BroadcastRepo.
func NewBroadcastRepo(db *sqlx.DB) *BroadcastRepo {
	return &BroadcastRepo{db: db}
}

// CreateJob inserts the job, or returns the stored one when the id is already known.
// A re-run of a finished job is marked running again.
func (r *BroadcastRepo) CreateJob(ctx context.Context, job models.BroadcastJob) (stored models.BroadcastJob, created bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.BroadcastJob{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &stored, `INSERT INTO broadcast_jobs (id, admin_id, filter, content, status)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO NOTHING
        RETURNING `+jobColumns, job.ID, job.AdminID, string(job.Filter), job.Content, models.JobRunning)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, sql.ErrNoRows):
		if err = tx.GetContext(ctx, &stored, `UPDATE broadcast_jobs SET status=$2, finished_at=NULL
            WHERE id=$1 RETURNING `+jobColumns, job.ID, models.JobRunning); err != nil {
			return models.BroadcastJob{}, false, err
		}
	default:
		return models.BroadcastJob{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.BroadcastJob{}, false, err
	}
	return stored, created, nil
}

// GetJob fetches a job by id.
func (r *BroadcastRepo) GetJob(ctx context.Context, jobID string) (models.BroadcastJob, error) {
	var job models.BroadcastJob
	err := r.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM broadcast_jobs WHERE id=$1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BroadcastJob{}, ErrJobNotFound
	}
	return job, err
}

// FinishJob closes a run. The job's sent and error counts are recomputed
// from its deliveries so they cover every run of the job; skipped_count is
// the last run's.
func (r *BroadcastRepo) FinishJob(ctx context.Context, result models.BroadcastResult, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE broadcast_jobs
        SET status=$2,
            sent_count=(SELECT COUNT(*) FROM broadcast_deliveries WHERE job_id=$1 AND status=$3),
            error_count=(SELECT COUNT(*) FROM broadcast_deliveries WHERE job_id=$1 AND status=$4),
            skipped_count=$5, finished_at=$6
        WHERE id=$1`, result.JobID, result.Status, models.DeliverySent, models.DeliveryFailed, result.SkippedCount, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ClaimDelivery reserves (job, recipient) for sending. It returns false when the
// recipient was already sent to (or is being sent to) by this job; failed
// deliveries can be claimed again.
func (r *BroadcastRepo) ClaimDelivery(ctx context.Context, jobID string, recipientID int64) (bool, error) {
	var claimed int64
	err := r.db.GetContext(ctx, &claimed, `INSERT INTO broadcast_deliveries (job_id, recipient_id, status)
        VALUES ($1, $2, $3)
        ON CONFLICT (job_id, recipient_id) DO UPDATE SET status=EXCLUDED.status, reason='', updated_at=NOW()
        WHERE broadcast_deliveries.status = $4
        RETURNING recipient_id`, jobID, recipientID, models.DeliveryPending, models.DeliveryFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompleteDelivery marks the delivery sent.
func (r *BroadcastRepo) CompleteDelivery(ctx context.Context, jobID string, recipientID, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE broadcast_deliveries SET status=$3, message_id=$4, reason='', updated_at=NOW()
        WHERE job_id=$1 AND recipient_id=$2`, jobID, recipientID, models.DeliverySent, messageID)
	return err
}

// FailDelivery records the failure reason and releases the claim for a later run.
func (r *BroadcastRepo) FailDelivery(ctx context.Context, jobID string, recipientID int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE broadcast_deliveries SET status=$3, reason=$4, updated_at=NOW()
        WHERE job_id=$1 AND recipient_id=$2`, jobID, recipientID, models.DeliveryFailed, reason)
	return err
}
