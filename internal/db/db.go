package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect initializes the database connection and runs migrations.
func Connect(opts Options, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.Int("statements", len(migrations)))
	return db, nil
}

// profiles and blocks mirror tables owned by the identity service; they are
// created here so a standalone deployment has them.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
            id BIGINT PRIMARY KEY,
            display_name TEXT NOT NULL DEFAULT '',
            profile_type TEXT NOT NULL,
            is_public BOOLEAN NOT NULL DEFAULT TRUE,
            accepts_direct_contact BOOLEAN NOT NULL DEFAULT TRUE,
            preferred_contact_id BIGINT,
            deleted_at TIMESTAMPTZ
        );`,
	`CREATE INDEX IF NOT EXISTS profiles_type_idx ON profiles (profile_type) WHERE deleted_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS blocks (
            blocker_id BIGINT NOT NULL,
            blocked_id BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (blocker_id, blocked_id)
        );`,
	`CREATE INDEX IF NOT EXISTS blocks_blocked_idx ON blocks (blocked_id);`,
	`CREATE TABLE IF NOT EXISTS conversations (
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL DEFAULT 'direct',
            user1_id BIGINT NOT NULL,
            user2_id BIGINT NOT NULL,
            last_seq BIGINT NOT NULL DEFAULT 0,
            last_message_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (user1_id, user2_id),
            CHECK (user1_id < user2_id)
        );`,
	`CREATE TABLE IF NOT EXISTS conversation_members (
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            pinned_at TIMESTAMPTZ,
            archived_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ,
            last_read_seq BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (conversation_id, user_id)
        );`,
	`CREATE INDEX IF NOT EXISTS conversation_members_user_idx ON conversation_members (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            seq BIGINT NOT NULL,
            content TEXT NOT NULL,
            attachments TEXT[] NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            deleted_at TIMESTAMPTZ,
            UNIQUE (conversation_id, seq)
        );`,
	`CREATE TABLE IF NOT EXISTS broadcast_jobs (
            id TEXT PRIMARY KEY,
            admin_id BIGINT NOT NULL,
            filter JSONB NOT NULL,
            content TEXT NOT NULL,
            status TEXT NOT NULL,
            sent_count INT NOT NULL DEFAULT 0,
            error_count INT NOT NULL DEFAULT 0,
            skipped_count INT NOT NULL DEFAULT 0,
            started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            finished_at TIMESTAMPTZ
        );`,
	`CREATE TABLE IF NOT EXISTS broadcast_deliveries (
            job_id TEXT NOT NULL REFERENCES broadcast_jobs(id) ON DELETE CASCADE,
            recipient_id BIGINT NOT NULL,
            message_id BIGINT,
            status TEXT NOT NULL,
            reason TEXT NOT NULL DEFAULT '',
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (job_id, recipient_id)
        );`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
