// Package sqlite provides the SQLite-backed channel and inbox repository.
package sqlite

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/messaging/models"
)

// Repository provides SQLite-based channel and inbox storage operations.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

// NewWithDB creates a new messaging repository sharing the given pools.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize messaging schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	if err := r.initTables(); err != nil {
		return err
	}
	if err := r.runMigrations(); err != nil {
		return err
	}
	if err := r.initIndexes(); err != nil {
		return err
	}
	return r.seedDefaultChannel()
}

func (r *Repository) initTables() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT REFERENCES agents(id) ON DELETE SET NULL,
		epic_id TEXT,
		created_at TIMESTAMP NOT NULL,
		last_updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channel_messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		author_id TEXT,
		content TEXT NOT NULL,
		mentions TEXT NOT NULL DEFAULT '[]',
		thread_id TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channel_read_states (
		agent_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		last_read_at TIMESTAMP NOT NULL,
		processing_since TIMESTAMP,
		PRIMARY KEY (agent_id, channel_id)
	);

	CREATE TABLE IF NOT EXISTS inbox_messages (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'api',
		sender_name TEXT,
		external_thread_id TEXT,
		content TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'unread',
		response_text TEXT,
		delegated_to_task_id TEXT,
		processing_since TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		last_updated_at TIMESTAMP NOT NULL
	);
	`)
	return err
}

// runMigrations applies idempotent ALTER TABLE migrations for schema evolution.
func (r *Repository) runMigrations() error {
	// Columns added after the initial release (ignore error if already present)
	_, _ = r.db.Exec(`ALTER TABLE channels ADD COLUMN epic_id TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE channel_messages ADD COLUMN thread_id TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE channel_read_states ADD COLUMN processing_since TIMESTAMP`)
	_, _ = r.db.Exec(`ALTER TABLE inbox_messages ADD COLUMN processing_since TIMESTAMP`)
	_, _ = r.db.Exec(`ALTER TABLE inbox_messages ADD COLUMN sender_name TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE inbox_messages ADD COLUMN external_thread_id TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE inbox_messages ADD COLUMN response_text TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE inbox_messages ADD COLUMN delegated_to_task_id TEXT`)
	return nil
}

func (r *Repository) initIndexes() error {
	_, err := r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_channel_messages_channel_created ON channel_messages(channel_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_channel_messages_thread ON channel_messages(thread_id);
	CREATE INDEX IF NOT EXISTS idx_inbox_messages_agent_status ON inbox_messages(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_inbox_messages_created ON inbox_messages(created_at);
	`)
	return err
}

// seedDefaultChannel ensures the well-known default channel exists. The fixed
// id makes the insert idempotent across restarts.
func (r *Repository) seedDefaultChannel() error {
	now := time.Now().UTC()
	_, err := r.db.Exec(r.db.Rebind(`
		INSERT OR IGNORE INTO channels (id, name, description, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), models.DefaultChannelID, models.DefaultChannelName, "Shared channel for all agents", now, now)
	return err
}
