// Package sqlite provides the SQLite-backed schedule repository.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository provides SQLite-based schedule storage operations.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

// NewWithDB creates a new schedule repository sharing the given pools.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schedule schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		task_template TEXT NOT NULL,
		cron_expression TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		interval_ms INTEGER NOT NULL DEFAULT 0,
		target_agent_id TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		enabled INTEGER NOT NULL DEFAULT 1,
		next_run_at TIMESTAMP,
		last_run_at TIMESTAMP,
		consecutive_errors INTEGER NOT NULL DEFAULT 0,
		last_error_at TIMESTAMP,
		last_error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_updated_at TIMESTAMP NOT NULL
	);
	`)
	if err != nil {
		return err
	}

	// Columns added after the initial release (ignore error if already present)
	_, _ = r.db.Exec(`ALTER TABLE scheduled_tasks ADD COLUMN timezone TEXT NOT NULL DEFAULT ''`)
	_, _ = r.db.Exec(`ALTER TABLE scheduled_tasks ADD COLUMN consecutive_errors INTEGER NOT NULL DEFAULT 0`)
	_, _ = r.db.Exec(`ALTER TABLE scheduled_tasks ADD COLUMN last_error_at TIMESTAMP`)
	_, _ = r.db.Exec(`ALTER TABLE scheduled_tasks ADD COLUMN last_error_message TEXT NOT NULL DEFAULT ''`)

	_, err = r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(enabled, next_run_at);
	`)
	return err
}
