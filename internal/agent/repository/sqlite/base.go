// Package sqlite implements agent registry storage on SQLite.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository implements agent storage with split writer/reader pools.
type Repository struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewWithDB creates the repository and ensures the schema is in place.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	r := &Repository{db: writer, ro: reader}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize agent schema: %w", err)
	}
	return r, nil
}

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		is_lead INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'idle',
		max_tasks INTEGER NOT NULL DEFAULT 1,
		empty_poll_count INTEGER NOT NULL DEFAULT 0,
		role TEXT,
		description TEXT,
		capabilities TEXT,
		claude_md TEXT,
		soul_md TEXT,
		identity_md TEXT,
		setup_script TEXT,
		tools_md TEXT,
		created_at DATETIME NOT NULL,
		last_updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create agents table: %w", err)
	}

	_, err = r.db.Exec(`
	CREATE TABLE IF NOT EXISTS agent_context_versions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		field TEXT NOT NULL,
		version INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		change_source TEXT NOT NULL DEFAULT 'api',
		changed_by_agent_id TEXT,
		change_reason TEXT,
		previous_version_id TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	)`)
	if err != nil {
		return fmt.Errorf("failed to create agent_context_versions table: %w", err)
	}

	if err := r.runMigrations(); err != nil {
		return err
	}
	return r.initIndexes()
}

// runMigrations adds columns introduced after the initial schema. Errors are
// ignored because SQLite has no ADD COLUMN IF NOT EXISTS.
func (r *Repository) runMigrations() error {
	_, _ = r.db.Exec(`ALTER TABLE agents ADD COLUMN setup_script TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE agents ADD COLUMN tools_md TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE agents ADD COLUMN empty_poll_count INTEGER NOT NULL DEFAULT 0`)
	_, _ = r.db.Exec(`ALTER TABLE agent_context_versions ADD COLUMN previous_version_id TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE agent_context_versions ADD COLUMN changed_by_agent_id TEXT`)
	_, _ = r.db.Exec(`ALTER TABLE agent_context_versions ADD COLUMN change_reason TEXT`)
	return nil
}

func (r *Repository) initIndexes() error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_is_lead ON agents(is_lead)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_context_versions_agent_field_version
			ON agent_context_versions(agent_id, field, version)`,
	}
	for _, idx := range indexes {
		if _, err := r.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
