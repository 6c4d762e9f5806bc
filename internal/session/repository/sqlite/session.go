package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentswarm/agentswarm/internal/session/models"
)

const sessionColumns = `id, agent_id, task_id, trigger_type, inbox_message_id, task_description,
	started_at, last_heartbeat_at`

// StartSession inserts a new running-session row.
func (r *Repository) StartSession(ctx context.Context, s *models.ActiveSession) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.StartedAt = now
	s.LastHeartbeatAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO active_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.AgentID, s.TaskID, s.TriggerType, s.InboxMessageID, s.TaskDescription,
		s.StartedAt, s.LastHeartbeatAt)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (r *Repository) GetSession(ctx context.Context, id string) (*models.ActiveSession, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+sessionColumns+` FROM active_sessions WHERE id = ?`), id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return s, err
}

// HeartbeatByTask bumps lastHeartbeatAt on the session running the task.
func (r *Repository) HeartbeatByTask(ctx context.Context, taskID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE active_sessions SET last_heartbeat_at = ? WHERE task_id = ?
	`), time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("session not found for task: %s", taskID)
	}
	return nil
}

// EndSession deletes a session by ID.
func (r *Repository) EndSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM active_sessions WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// EndSessionByTask deletes the session running the task.
func (r *Repository) EndSessionByTask(ctx context.Context, taskID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM active_sessions WHERE task_id = ?`), taskID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("session not found for task: %s", taskID)
	}
	return nil
}

// CleanupStale deletes sessions whose heartbeat predates the cutoff and
// returns how many were removed.
func (r *Repository) CleanupStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM active_sessions WHERE last_heartbeat_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}

// ListSessions returns running sessions, newest first, optionally for one
// agent.
func (r *Repository) ListSessions(ctx context.Context, agentID string) ([]*models.ActiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM active_sessions`
	var args []interface{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.ActiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*models.ActiveSession, error) {
	var s models.ActiveSession
	err := scanner.Scan(&s.ID, &s.AgentID, &s.TaskID, &s.TriggerType, &s.InboxMessageID,
		&s.TaskDescription, &s.StartedAt, &s.LastHeartbeatAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
