package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/store"
	"github.com/agentswarm/agentswarm/internal/task/models"
)

// Lifecycle transitions are guarded UPDATEs: the WHERE clause carries the
// precondition, so concurrent claimants race on the row and exactly one
// wins. A lost precondition returns (nil, nil); a missing row returns an
// error. Every won transition logs one task_status_change entry in the
// same transaction.

// ClaimTask atomically moves an unassigned task to pending for one agent.
func (r *Repository) ClaimTask(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	return r.transition(ctx, taskID, agentID, models.StatusUnassigned, func(tx *sqlx.Tx, now time.Time) (int64, error) {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE agent_tasks SET status = ?, agent_id = ?, last_updated_at = ?
			WHERE id = ? AND status = ?
		`), models.StatusPending, agentID, now, taskID, models.StatusUnassigned)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, models.StatusPending)
}

// OfferTask directs an unassigned task at a single agent.
func (r *Repository) OfferTask(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	return r.transition(ctx, taskID, agentID, models.StatusUnassigned, func(tx *sqlx.Tx, now time.Time) (int64, error) {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE agent_tasks SET status = ?, offered_to = ?, offered_at = ?, last_updated_at = ?
			WHERE id = ? AND status = ?
		`), models.StatusOffered, agentID, now, now, taskID, models.StatusUnassigned)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, models.StatusOffered)
}

// ClaimOffered atomically moves an offered task to reviewing for the agent
// it was offered to. Losing the race (or a stale offer) returns nil.
func (r *Repository) ClaimOffered(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	return r.transition(ctx, taskID, agentID, models.StatusOffered, func(tx *sqlx.Tx, now time.Time) (int64, error) {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE agent_tasks SET status = ?, last_updated_at = ?
			WHERE id = ? AND status = ? AND offered_to = ?
		`), models.StatusReviewing, now, taskID, models.StatusOffered, agentID)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, models.StatusReviewing)
}

// AcceptTask converts an offer under review into an assignment. The offer
// audit fields (offeredTo, offeredAt) are preserved.
func (r *Repository) AcceptTask(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	var accepted *models.Task
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		prev, err := currentStatus(ctx, tx, taskID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE agent_tasks SET status = ?, agent_id = ?, accepted_at = ?, last_updated_at = ?
			WHERE id = ? AND status IN (?, ?) AND offered_to = ?
		`), models.StatusPending, agentID, now, now, taskID, models.StatusOffered, models.StatusReviewing, agentID)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return nil
		}
		r.logTransition(ctx, tx, taskID, agentID, prev, models.StatusPending)
		accepted, err = getTaskTx(ctx, tx, taskID)
		return err
	})
	return accepted, err
}

// RejectTask returns an offer under review to the pool, recording why.
func (r *Repository) RejectTask(ctx context.Context, taskID, agentID, reason string) (*models.Task, error) {
	var rejected *models.Task
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		prev, err := currentStatus(ctx, tx, taskID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE agent_tasks SET status = ?, agent_id = NULL, offered_to = NULL, offered_at = NULL,
				rejection_reason = ?, last_updated_at = ?
			WHERE id = ? AND status IN (?, ?) AND offered_to = ?
		`), models.StatusUnassigned, reason, now, taskID, models.StatusOffered, models.StatusReviewing, agentID)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return nil
		}
		r.logTransition(ctx, tx, taskID, agentID, prev, models.StatusUnassigned)
		rejected, err = getTaskTx(ctx, tx, taskID)
		return err
	})
	return rejected, err
}

// StartTask moves a pending task to in_progress.
func (r *Repository) StartTask(ctx context.Context, taskID string) (*models.Task, error) {
	return r.simpleTransition(ctx, taskID, []models.TaskStatus{models.StatusPending}, models.StatusInProgress, "")
}

// PauseTask suspends an in_progress task, keeping its agent binding.
func (r *Repository) PauseTask(ctx context.Context, taskID string) (*models.Task, error) {
	return r.simpleTransition(ctx, taskID, []models.TaskStatus{models.StatusInProgress}, models.StatusPaused, "")
}

// ResumeTask returns a paused task to in_progress.
func (r *Repository) ResumeTask(ctx context.Context, taskID string) (*models.Task, error) {
	return r.simpleTransition(ctx, taskID, []models.TaskStatus{models.StatusPaused}, models.StatusInProgress, "")
}

// MoveToPool promotes a backlog task into the claimable pool.
func (r *Repository) MoveToPool(ctx context.Context, taskID string) (*models.Task, error) {
	return r.simpleTransition(ctx, taskID, []models.TaskStatus{models.StatusBacklog}, models.StatusUnassigned, "")
}

// MoveToBacklog defers an unassigned task out of the claimable pool.
func (r *Repository) MoveToBacklog(ctx context.Context, taskID string) (*models.Task, error) {
	return r.simpleTransition(ctx, taskID, []models.TaskStatus{models.StatusUnassigned}, models.StatusBacklog, "")
}

// CompleteTask finishes a task successfully and records its output.
func (r *Repository) CompleteTask(ctx context.Context, taskID, output string) (*models.Task, error) {
	return r.finishTask(ctx, taskID, models.StatusCompleted, "output", output,
		[]models.TaskStatus{models.StatusPending, models.StatusInProgress, models.StatusPaused})
}

// FailTask finishes a task unsuccessfully and records the reason.
func (r *Repository) FailTask(ctx context.Context, taskID, reason string) (*models.Task, error) {
	return r.finishTask(ctx, taskID, models.StatusFailed, "failure_reason", reason,
		[]models.TaskStatus{models.StatusPending, models.StatusInProgress, models.StatusPaused})
}

// CancelTask cancels a pending or in_progress task. Cancellation of running
// work is cooperative: the owning agent observes it on its next poll.
func (r *Repository) CancelTask(ctx context.Context, taskID, reason string) (*models.Task, error) {
	return r.finishTask(ctx, taskID, models.StatusCancelled, "failure_reason", reason,
		[]models.TaskStatus{models.StatusPending, models.StatusInProgress})
}

// SetProgress updates the free-text progress note. A pending task is coerced
// to in_progress, covering workers that skip the explicit start call.
func (r *Repository) SetProgress(ctx context.Context, taskID, progress string) (*models.Task, error) {
	var updated *models.Task
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		prev, err := currentStatus(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if prev != models.StatusPending && prev != models.StatusInProgress {
			return nil
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE agent_tasks SET progress = ?, status = ?, last_updated_at = ? WHERE id = ?
		`), progress, models.StatusInProgress, now, taskID)
		if err != nil {
			return err
		}
		if prev == models.StatusPending {
			r.logTransition(ctx, tx, taskID, "", prev, models.StatusInProgress)
		}
		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventTaskProgress,
			TaskID:    taskID,
			NewValue:  progress,
		})
		updated, err = getTaskTx(ctx, tx, taskID)
		return err
	})
	return updated, err
}

// transition runs a guarded single-status transition whose UPDATE is
// supplied by exec, logging the change when the guard holds.
func (r *Repository) transition(ctx context.Context, taskID, agentID string, from models.TaskStatus, exec func(tx *sqlx.Tx, now time.Time) (int64, error), to models.TaskStatus) (*models.Task, error) {
	var result *models.Task
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		rows, err := exec(tx, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return taskMiss(ctx, tx, taskID)
		}
		r.logTransition(ctx, tx, taskID, agentID, from, to)
		result, err = getTaskTx(ctx, tx, taskID)
		return err
	})
	return result, err
}

// simpleTransition performs from→to with no extra column writes.
func (r *Repository) simpleTransition(ctx context.Context, taskID string, from []models.TaskStatus, to models.TaskStatus, agentID string) (*models.Task, error) {
	var result *models.Task
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		prev, err := currentStatus(ctx, tx, taskID)
		if err != nil {
			return err
		}
		query, args, err := sqlx.In(`
			UPDATE agent_tasks SET status = ?, last_updated_at = ? WHERE id = ? AND status IN (?)
		`, to, now, taskID, from)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return nil
		}
		r.logTransition(ctx, tx, taskID, agentID, prev, to)
		result, err = getTaskTx(ctx, tx, taskID)
		return err
	})
	return result, err
}

// finishTask performs a terminal transition, stamping finishedAt and the
// named result column.
func (r *Repository) finishTask(ctx context.Context, taskID string, to models.TaskStatus, resultColumn, resultValue string, from []models.TaskStatus) (*models.Task, error) {
	var result *models.Task
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		prev, err := currentStatus(ctx, tx, taskID)
		if err != nil {
			return err
		}
		query, args, err := sqlx.In(`
			UPDATE agent_tasks SET status = ?, `+resultColumn+` = ?, finished_at = ?, last_updated_at = ?
			WHERE id = ? AND status IN (?)
		`, to, resultValue, now, now, taskID, from)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return nil
		}
		r.logTransition(ctx, tx, taskID, "", prev, to)
		result, err = getTaskTx(ctx, tx, taskID)
		return err
	})
	return result, err
}

func (r *Repository) logTransition(ctx context.Context, tx *sqlx.Tx, taskID, agentID string, from, to models.TaskStatus) {
	agentlog.Append(ctx, tx, &agentlog.Entry{
		EventType: agentlog.EventTaskStatusChange,
		AgentID:   agentID,
		TaskID:    taskID,
		OldValue:  string(from),
		NewValue:  string(to),
	})
}

// currentStatus reads a task's status inside the transaction. Missing rows
// surface as a not-found error before any guarded UPDATE runs.
func currentStatus(ctx context.Context, tx *sqlx.Tx, taskID string) (models.TaskStatus, error) {
	var status models.TaskStatus
	err := tx.QueryRowContext(ctx, tx.Rebind(`SELECT status FROM agent_tasks WHERE id = ?`), taskID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("task not found: %s", taskID)
	}
	return status, nil
}

// taskMiss distinguishes a lost precondition (nil) from a missing row.
func taskMiss(ctx context.Context, tx *sqlx.Tx, taskID string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, tx.Rebind(`SELECT COUNT(*) FROM agent_tasks WHERE id = ?`), taskID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}
