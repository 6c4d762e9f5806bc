// Package sqlite provides the SQLite-backed epic repository.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository provides SQLite-based epic storage operations.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

// NewWithDB creates a new epic repository sharing the given pools.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize epic schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS epics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		goal TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		priority INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		lead_agent_id TEXT,
		channel_id TEXT REFERENCES channels(id) ON DELETE SET NULL,
		progress_notified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		last_updated_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	);
	`)
	if err != nil {
		return err
	}

	// Columns added after the initial release (ignore error if already present)
	_, _ = r.db.Exec(`ALTER TABLE epics ADD COLUMN progress_notified_at TIMESTAMP`)
	_, _ = r.db.Exec(`ALTER TABLE epics ADD COLUMN lead_agent_id TEXT`)

	_, err = r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_epics_status ON epics(status);
	CREATE INDEX IF NOT EXISTS idx_epics_created ON epics(created_at);
	`)
	return err
}
