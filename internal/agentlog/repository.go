package agentlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository owns the agent_logs table and its read paths.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

// NewWithDB creates the repository and initializes its schema.
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	r := &Repository{db: writer, ro: reader}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize agent_logs schema: %w", err)
	}
	return r, nil
}

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS agent_logs (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		agent_id TEXT,
		task_id TEXT,
		old_value TEXT,
		new_value TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_logs_task ON agent_logs(task_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_agent ON agent_logs(agent_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_event ON agent_logs(event_type, created_at);
	`)
	return err
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	TaskID    string
	AgentID   string
	EventType string
	Limit     int
}

// List returns audit entries matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	query := `SELECT id, event_type, agent_id, task_id, old_value, new_value, metadata, created_at FROM agent_logs WHERE 1=1`
	var args []interface{}
	if filter.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var agentID, taskID, oldValue, newValue sql.NullString
		var metadata string
		if err := rows.Scan(&e.ID, &e.EventType, &agentID, &taskID, &oldValue, &newValue, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AgentID = agentID.String
		e.TaskID = taskID.String
		e.OldValue = oldValue.String
		e.NewValue = newValue.String
		_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		result = append(result, e)
	}
	return result, rows.Err()
}

// CountByEventType returns the number of entries for an event type,
// optionally scoped to one task.
func (r *Repository) CountByEventType(ctx context.Context, eventType, taskID string) (int, error) {
	query := `SELECT COUNT(*) FROM agent_logs WHERE event_type = ?`
	args := []interface{}{eventType}
	if taskID != "" {
		query += " AND task_id = ?"
		args = append(args, taskID)
	}
	var count int
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(query), args...).Scan(&count)
	return count, err
}
