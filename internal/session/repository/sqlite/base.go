// Package sqlite provides the SQLite-backed session repository.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository provides SQLite-based session storage operations.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

// NewWithDB creates a new session repository sharing the given pools.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS active_sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		trigger_type TEXT NOT NULL DEFAULT '',
		inbox_message_id TEXT NOT NULL DEFAULT '',
		task_description TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		last_heartbeat_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_costs (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost_usd REAL NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		num_turns INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_logs (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`)
	if err != nil {
		return err
	}

	// Columns added after the initial release (ignore error if already present)
	_, _ = r.db.Exec(`ALTER TABLE active_sessions ADD COLUMN inbox_message_id TEXT NOT NULL DEFAULT ''`)
	_, _ = r.db.Exec(`ALTER TABLE active_sessions ADD COLUMN task_description TEXT NOT NULL DEFAULT ''`)
	_, _ = r.db.Exec(`ALTER TABLE session_costs ADD COLUMN cache_read_tokens INTEGER NOT NULL DEFAULT 0`)
	_, _ = r.db.Exec(`ALTER TABLE session_costs ADD COLUMN cache_creation_tokens INTEGER NOT NULL DEFAULT 0`)
	_, _ = r.db.Exec(`ALTER TABLE session_costs ADD COLUMN num_turns INTEGER NOT NULL DEFAULT 0`)

	_, err = r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_active_sessions_agent ON active_sessions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_active_sessions_task ON active_sessions(task_id);
	CREATE INDEX IF NOT EXISTS idx_active_sessions_heartbeat ON active_sessions(last_heartbeat_at);
	CREATE INDEX IF NOT EXISTS idx_session_costs_agent ON session_costs(agent_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_session_costs_task ON session_costs(task_id);
	CREATE INDEX IF NOT EXISTS idx_session_logs_task ON session_logs(task_id);
	CREATE INDEX IF NOT EXISTS idx_session_logs_session ON session_logs(session_id);
	`)
	return err
}
