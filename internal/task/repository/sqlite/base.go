// Package sqlite provides the SQLite-backed task repository.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	commonsqlite "github.com/agentswarm/agentswarm/internal/common/sqlite"
)

// Repository provides SQLite-based task storage operations.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

// NewWithDB creates a new task repository sharing the given pools.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize task schema: %w", err)
	}
	return repo, nil
}

// DB returns the underlying writer for shared access.
func (r *Repository) DB() *sql.DB {
	return r.db.DB
}

// initSchema creates the task tables if they don't exist.
func (r *Repository) initSchema() error {
	if err := r.initTaskSchema(); err != nil {
		return err
	}
	if err := r.runMigrations(); err != nil {
		return err
	}
	return r.initTaskIndexes()
}

func (r *Repository) initTaskSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS agent_tasks (
		id TEXT PRIMARY KEY,
		agent_id TEXT,
		creator_agent_id TEXT,
		task TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'unassigned',
		source TEXT NOT NULL DEFAULT 'api',
		task_type TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		priority INTEGER NOT NULL DEFAULT 0,
		depends_on TEXT NOT NULL DEFAULT '[]',
		offered_to TEXT,
		offered_at TIMESTAMP,
		accepted_at TIMESTAMP,
		rejection_reason TEXT NOT NULL DEFAULT '',
		slack_channel TEXT NOT NULL DEFAULT '',
		slack_ts TEXT NOT NULL DEFAULT '',
		github_repo TEXT NOT NULL DEFAULT '',
		github_issue_number INTEGER NOT NULL DEFAULT 0,
		agentmail_thread_id TEXT NOT NULL DEFAULT '',
		mention_message_id TEXT,
		mention_channel_id TEXT,
		epic_id TEXT,
		parent_task_id TEXT,
		claude_session_id TEXT NOT NULL DEFAULT '',
		progress TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_updated_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		notified_at TIMESTAMP
	);
	`)
	return err
}

// runMigrations applies idempotent ALTER TABLE migrations for schema evolution.
func (r *Repository) runMigrations() error {
	// Columns added after the initial release.
	migrations := []struct {
		column     string
		definition string
	}{
		{"claude_session_id", "TEXT NOT NULL DEFAULT ''"},
		{"progress", "TEXT NOT NULL DEFAULT ''"},
		{"notified_at", "TIMESTAMP"},
		{"epic_id", "TEXT"},
		{"parent_task_id", "TEXT"},
		{"mention_message_id", "TEXT"},
		{"mention_channel_id", "TEXT"},
	}
	for _, m := range migrations {
		if err := commonsqlite.EnsureColumn(r.db.DB, "agent_tasks", m.column, m.definition); err != nil {
			return fmt.Errorf("failed to migrate agent_tasks.%s: %w", m.column, err)
		}
	}
	return nil
}

func (r *Repository) initTaskIndexes() error {
	_, err := r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_agent_tasks_status ON agent_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_agent_tasks_agent_status ON agent_tasks(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_agent_tasks_offered ON agent_tasks(offered_to, status);
	CREATE INDEX IF NOT EXISTS idx_agent_tasks_epic ON agent_tasks(epic_id);
	CREATE INDEX IF NOT EXISTS idx_agent_tasks_finished ON agent_tasks(status, finished_at);
	CREATE INDEX IF NOT EXISTS idx_agent_tasks_created ON agent_tasks(created_at);
	`)
	return err
}
