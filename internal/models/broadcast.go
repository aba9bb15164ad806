package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a broadcast job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// BroadcastJob groups the sends of one administrator broadcast.
type BroadcastJob struct {
	ID           string          `db:"id" json:"job_id"`
	AdminID      int64           `db:"admin_id" json:"admin_id"`
	Filter       json.RawMessage `db:"filter" json:"filter"`
	Content      string          `db:"content" json:"content"`
	Status       JobStatus       `db:"status" json:"status"`
	SentCount    int             `db:"sent_count" json:"sent_count"`
	ErrorCount   int             `db:"error_count" json:"error_count"`
	SkippedCount int             `db:"skipped_count" json:"skipped_count"`
	StartedAt    time.Time       `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// DeliveryStatus is the outcome of one recipient of a broadcast job.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// BroadcastDelivery is keyed by (job, recipient) so a job never messages a recipient twice.
type BroadcastDelivery struct {
	JobID       string         `db:"job_id" json:"job_id"`
	RecipientID int64          `db:"recipient_id" json:"recipient_id"`
	MessageID   *int64         `db:"message_id" json:"message_id,omitempty"`
	Status      DeliveryStatus `db:"status" json:"status"`
	Reason      string         `db:"reason" json:"reason,omitempty"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// RecipientFailure explains why one recipient did not receive a broadcast.
type RecipientFailure struct {
	RecipientID int64  `json:"recipient_id"`
	Reason      string `json:"reason"`
}

// BroadcastResult is the outcome of running a broadcast job.
type BroadcastResult struct {
	JobID        string             `json:"job_id"`
	Status       JobStatus          `json:"status"`
	SentCount    int                `json:"sent_count"`
	ErrorCount   int                `json:"error_count"`
	SkippedCount int                `json:"skipped_count"`
	Failures     []RecipientFailure `json:"failures"`
}
