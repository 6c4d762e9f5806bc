package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/store"
	"github.com/agentswarm/agentswarm/internal/task/models"
)

// taskColumnsPrefixed qualifies every task column with a table alias for
// join queries.
func taskColumnsPrefixed(alias string) string {
	cols := strings.Split(taskColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// The poll endpoint evaluates all of its trigger sources inside one
// transaction, so the selection queries below take sqlx.ExtContext and are
// usable both standalone (through the Repository wrappers) and composed
// into the dispatcher's transaction.

// RecentlyCancelled returns cancelled tasks owned by the agent that finished
// after since and have not been observed (notifiedAt unset or predating the
// cancellation).
func RecentlyCancelled(ctx context.Context, q sqlx.ExtContext, agentID string, since time.Time) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT `+taskColumns+` FROM agent_tasks
		WHERE status = ? AND agent_id = ? AND finished_at >= ?
		  AND (notified_at IS NULL OR notified_at < finished_at)
		ORDER BY finished_at ASC
	`), models.StatusCancelled, agentID, since)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// OfferedTo returns open offers directed at the agent, best first.
func OfferedTo(ctx context.Context, q sqlx.ExtContext, agentID string) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT `+taskColumns+` FROM agent_tasks
		WHERE status = ? AND offered_to = ?
		ORDER BY priority DESC, created_at ASC
	`), models.StatusOffered, agentID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// TryClaimOffered attempts the offered→reviewing transition inside the
// caller's transaction. False means another poll got there first.
func TryClaimOffered(ctx context.Context, q sqlx.ExtContext, taskID, agentID string) (bool, error) {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE agent_tasks SET status = ?, last_updated_at = ?
		WHERE id = ? AND status = ? AND offered_to = ?
	`), models.StatusReviewing, now, taskID, models.StatusOffered, agentID)
	if err != nil {
		return false, err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return false, nil
	}
	agentlog.Append(ctx, q, &agentlog.Entry{
		EventType: agentlog.EventTaskStatusChange,
		AgentID:   agentID,
		TaskID:    taskID,
		OldValue:  string(models.StatusOffered),
		NewValue:  string(models.StatusReviewing),
	})
	return true, nil
}

// PendingForAgent returns the agent's pending tasks in claim order.
func PendingForAgent(ctx context.Context, q sqlx.ExtContext, agentID string) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT `+taskColumns+` FROM agent_tasks
		WHERE status = ? AND agent_id = ?
		ORDER BY priority DESC, created_at ASC
	`), models.StatusPending, agentID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// DependenciesBlocked returns the subset of dependsOn whose tasks are
// missing or not completed, in the declared order.
func DependenciesBlocked(ctx context.Context, q sqlx.ExtContext, dependsOn []string) ([]string, error) {
	if len(dependsOn) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, status FROM agent_tasks WHERE id IN (?)`, dependsOn)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	completed := make(map[string]bool, len(dependsOn))
	for rows.Next() {
		var id string
		var status models.TaskStatus
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		completed[id] = status == models.StatusCompleted
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var blocked []string
	for _, dep := range dependsOn {
		if !completed[dep] {
			blocked = append(blocked, dep)
		}
	}
	return blocked, nil
}

// ReadyTaskForAgent scans the agent's pending tasks in order and returns the
// first whose dependencies are all completed, or nil.
func ReadyTaskForAgent(ctx context.Context, q sqlx.ExtContext, agentID string) (*models.Task, error) {
	pending, err := PendingForAgent(ctx, q, agentID)
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		blocked, err := DependenciesBlocked(ctx, q, t.DependsOn)
		if err != nil {
			return nil, err
		}
		if len(blocked) == 0 {
			return t, nil
		}
	}
	return nil, nil
}

// PausedForAgent returns the agent's paused tasks in claim order.
func PausedForAgent(ctx context.Context, q sqlx.ExtContext, agentID string) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT `+taskColumns+` FROM agent_tasks
		WHERE status = ? AND agent_id = ?
		ORDER BY priority DESC, created_at ASC
	`), models.StatusPaused, agentID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// FinishedWorkerTasks returns completed or failed tasks owned by non-lead
// agents that no lead has been told about yet.
func FinishedWorkerTasks(ctx context.Context, q sqlx.ExtContext) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT `+taskColumnsPrefixed("t")+` FROM agent_tasks t
		JOIN agents a ON a.id = t.agent_id AND a.is_lead = 0
		WHERE t.status IN (?, ?) AND t.notified_at IS NULL
		ORDER BY t.finished_at ASC
	`), models.StatusCompleted, models.StatusFailed)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// CountPoolTasks returns the size of the unassigned pool.
func CountPoolTasks(ctx context.Context, q sqlx.ExtContext) (int, error) {
	var count int
	err := q.QueryRowxContext(ctx, q.Rebind(
		`SELECT COUNT(*) FROM agent_tasks WHERE status = ?`), models.StatusUnassigned).Scan(&count)
	return count, err
}

// SetNotified stamps notifiedAt on the given tasks inside the caller's
// transaction.
func SetNotified(ctx context.Context, q sqlx.ExtContext, taskIDs []string, at time.Time) error {
	if len(taskIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE agent_tasks SET notified_at = ? WHERE id IN (?)`, at, taskIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, q.Rebind(query), args...)
	return err
}

// ReleaseStaleReviewing reverts reviewing tasks untouched since cutoff back
// to offered so the offer can be picked up again. offeredAt restarts so the
// refreshed offer gets a full review window.
func ReleaseStaleReviewing(ctx context.Context, q sqlx.ExtContext, cutoff time.Time) (int64, error) {
	ids, err := selectIDs(ctx, q, `SELECT id FROM agent_tasks WHERE status = ? AND last_updated_at < ?`,
		models.StatusReviewing, cutoff)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	now := time.Now().UTC()
	query, args, err := sqlx.In(`UPDATE agent_tasks SET status = ?, offered_at = ?, last_updated_at = ? WHERE id IN (?) AND status = ?`,
		models.StatusOffered, now, now, ids, models.StatusReviewing)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	released, _ := res.RowsAffected()
	for _, id := range ids {
		agentlog.Append(ctx, q, &agentlog.Entry{
			EventType: agentlog.EventTaskStatusChange,
			TaskID:    id,
			OldValue:  string(models.StatusReviewing),
			NewValue:  string(models.StatusOffered),
			Metadata:  map[string]string{"reason": "stale_reviewing_release"},
		})
	}
	return released, nil
}

// ReleaseStalePaused returns long-paused tasks to the pool when their agent
// has also gone quiet, clearing the agent binding.
func ReleaseStalePaused(ctx context.Context, q sqlx.ExtContext, cutoff time.Time) (int64, error) {
	ids, err := selectIDs(ctx, q, `
		SELECT t.id FROM agent_tasks t
		JOIN agents a ON a.id = t.agent_id
		WHERE t.status = ? AND t.last_updated_at < ?
		  AND (a.status = 'offline' OR a.last_updated_at < ?)
	`, models.StatusPaused, cutoff, cutoff)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	now := time.Now().UTC()
	query, args, err := sqlx.In(`
		UPDATE agent_tasks SET status = ?, agent_id = NULL, last_updated_at = ? WHERE id IN (?) AND status = ?
	`, models.StatusUnassigned, now, ids, models.StatusPaused)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	released, _ := res.RowsAffected()
	for _, id := range ids {
		agentlog.Append(ctx, q, &agentlog.Entry{
			EventType: agentlog.EventTaskStatusChange,
			TaskID:    id,
			OldValue:  string(models.StatusPaused),
			NewValue:  string(models.StatusUnassigned),
			Metadata:  map[string]string{"reason": "stale_paused_release"},
		})
	}
	return released, nil
}

// PauseAbandonedTasks pauses in_progress tasks whose running session has gone
// quiet past the cutoff. The agent binding stays so the owner resumes the
// task on its next poll instead of losing it to the pool.
func PauseAbandonedTasks(ctx context.Context, q sqlx.ExtContext, cutoff time.Time) (int64, error) {
	ids, err := selectIDs(ctx, q, `
		SELECT t.id FROM agent_tasks t
		JOIN active_sessions s ON s.task_id = t.id
		WHERE t.status = ? AND s.last_heartbeat_at < ?
	`, models.StatusInProgress, cutoff)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	now := time.Now().UTC()
	query, args, err := sqlx.In(`UPDATE agent_tasks SET status = ?, last_updated_at = ? WHERE id IN (?) AND status = ?`,
		models.StatusPaused, now, ids, models.StatusInProgress)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	paused, _ := res.RowsAffected()
	for _, id := range ids {
		agentlog.Append(ctx, q, &agentlog.Entry{
			EventType: agentlog.EventTaskStatusChange,
			TaskID:    id,
			OldValue:  string(models.StatusInProgress),
			NewValue:  string(models.StatusPaused),
			Metadata:  map[string]string{"reason": "abandoned_session_pause"},
		})
	}
	return paused, nil
}

func selectIDs(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Repository wrappers for standalone (non-poll) callers.

func (r *Repository) ListRecentlyCancelled(ctx context.Context, agentID string, since time.Time) ([]*models.Task, error) {
	return RecentlyCancelled(ctx, r.ro, agentID, since)
}

func (r *Repository) ListOfferedToAgent(ctx context.Context, agentID string) ([]*models.Task, error) {
	return OfferedTo(ctx, r.ro, agentID)
}

func (r *Repository) ListPausedForAgent(ctx context.Context, agentID string) ([]*models.Task, error) {
	return PausedForAgent(ctx, r.ro, agentID)
}

func (r *Repository) ListFinishedWorkerTasks(ctx context.Context) ([]*models.Task, error) {
	return FinishedWorkerTasks(ctx, r.ro)
}

// GetPendingTaskForAgent runs the ready-task selection against the read pool.
func (r *Repository) GetPendingTaskForAgent(ctx context.Context, agentID string) (*models.Task, error) {
	return ReadyTaskForAgent(ctx, r.ro, agentID)
}

// CheckDependencies reports whether the task may start and which
// dependencies block it.
func (r *Repository) CheckDependencies(ctx context.Context, taskID string) (*models.DependencyStatus, error) {
	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	blocked, err := DependenciesBlocked(ctx, r.ro, task.DependsOn)
	if err != nil {
		return nil, err
	}
	return &models.DependencyStatus{Ready: len(blocked) == 0, BlockedBy: blocked}, nil
}

// ReleaseStaleReviewingTasks runs the reviewing sweep in its own transaction.
func (r *Repository) ReleaseStaleReviewingTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	var released int64
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		released, err = ReleaseStaleReviewing(ctx, tx, cutoff)
		return err
	})
	return released, err
}

// ReleaseStalePausedTasks runs the paused sweep in its own transaction.
func (r *Repository) ReleaseStalePausedTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	var released int64
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		released, err = ReleaseStalePaused(ctx, tx, cutoff)
		return err
	})
	return released, err
}

// PauseAbandonedTasks runs the abandoned-session sweep in its own transaction.
func (r *Repository) PauseAbandonedTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	var paused int64
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		paused, err = PauseAbandonedTasks(ctx, tx, cutoff)
		return err
	})
	return paused, err
}
