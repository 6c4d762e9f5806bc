package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/schedule/models"
	"github.com/agentswarm/agentswarm/internal/store"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	tasksqlite "github.com/agentswarm/agentswarm/internal/task/repository/sqlite"
)

const scheduleColumns = `id, name, description, task_template, cron_expression, timezone, interval_ms,
	target_agent_id, priority, tags, enabled, next_run_at, last_run_at,
	consecutive_errors, last_error_at, last_error_message, created_at, last_updated_at`

// CreateSchedule inserts a new schedule row. Duplicate names surface the
// UNIQUE violation to the caller.
func (r *Repository) CreateSchedule(ctx context.Context, s *models.ScheduledTask) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.LastUpdatedAt = now

	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO scheduled_tasks (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.Name, s.Description, s.TaskTemplate, s.CronExpression, s.Timezone, s.IntervalMs,
		nullStr(s.TargetAgentID), s.Priority, string(tags), s.Enabled,
		nullTime(s.NextRunAt), nullTime(s.LastRunAt),
		s.ConsecutiveErrors, nullTime(s.LastErrorAt), s.LastErrorMessage,
		s.CreatedAt, s.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (r *Repository) GetSchedule(ctx context.Context, id string) (*models.ScheduledTask, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE id = ?`), id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule not found: %s", id)
	}
	return s, err
}

// GetScheduleByName retrieves a schedule by its unique name.
func (r *Repository) GetScheduleByName(ctx context.Context, name string) (*models.ScheduledTask, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE name = ?`), name)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule not found: %s", name)
	}
	return s, err
}

// ListSchedules returns schedules matching the filter, ordered by name.
func (r *Repository) ListSchedules(ctx context.Context, filter models.ListFilter) ([]*models.ScheduledTask, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_tasks WHERE 1=1`
	var args []interface{}
	if filter.Enabled != nil {
		query += ` AND enabled = ?`
		args = append(args, *filter.Enabled)
	}
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	query += ` ORDER BY name ASC`

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.ScheduledTask
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// UpdateSchedule rewrites the mutable fields of a schedule.
func (r *Repository) UpdateSchedule(ctx context.Context, s *models.ScheduledTask) error {
	s.LastUpdatedAt = time.Now().UTC()
	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE scheduled_tasks SET
			description = ?, task_template = ?, cron_expression = ?, timezone = ?, interval_ms = ?,
			target_agent_id = ?, priority = ?, tags = ?, enabled = ?,
			next_run_at = ?, consecutive_errors = ?, last_error_at = ?, last_error_message = ?,
			last_updated_at = ?
		WHERE id = ?
	`), s.Description, s.TaskTemplate, s.CronExpression, s.Timezone, s.IntervalMs,
		nullStr(s.TargetAgentID), s.Priority, string(tags), s.Enabled,
		nullTime(s.NextRunAt), s.ConsecutiveErrors, nullTime(s.LastErrorAt), s.LastErrorMessage,
		s.LastUpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("schedule not found: %s", s.ID)
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (r *Repository) DeleteSchedule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM scheduled_tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("schedule not found: %s", id)
	}
	return nil
}

// DueSchedules returns enabled schedules whose nextRunAt has passed, in
// firing order.
func (r *Repository) DueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT `+scheduleColumns+` FROM scheduled_tasks
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
	`), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.ScheduledTask
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// RecordRunSuccess books a successful firing in one transaction: the
// produced task is inserted, lastRunAt is bumped, nextRunAt advances, and
// the error streak clears. A crash can never leave the task created with
// the schedule still due.
func (r *Repository) RecordRunSuccess(ctx context.Context, id string, task *taskmodels.Task, ranAt time.Time, nextRunAt *time.Time) error {
	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE scheduled_tasks SET
				last_run_at = ?, next_run_at = ?,
				consecutive_errors = 0, last_error_at = NULL, last_error_message = '',
				last_updated_at = ?
			WHERE id = ?
		`), ranAt, nullTime(nextRunAt), ranAt, id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("schedule not found: %s", id)
		}
		if err := tasksqlite.InsertTask(ctx, tx, task); err != nil {
			return err
		}
		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventScheduleFired,
			TaskID:    task.ID,
			Metadata:  map[string]string{"schedule_id": id},
		})
		return nil
	})
}

// RecordRunFailure books a failed firing with the caller-computed backoff
// and error streak. Disable takes effect in the same write.
func (r *Repository) RecordRunFailure(ctx context.Context, id string, failedAt time.Time, message string, nextRunAt time.Time, errorCount int, disable bool) error {
	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE scheduled_tasks SET
				consecutive_errors = ?, last_error_at = ?, last_error_message = ?,
				next_run_at = ?, enabled = ?, last_updated_at = ?
			WHERE id = ?
		`), errorCount, failedAt, message, nextRunAt, !disable, failedAt, id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("schedule not found: %s", id)
		}
		if disable {
			agentlog.Append(ctx, tx, &agentlog.Entry{
				EventType: agentlog.EventScheduleDisabled,
				NewValue:  message,
				Metadata:  map[string]string{"schedule_id": id, "errors": fmt.Sprintf("%d", errorCount)},
			})
		}
		return nil
	})
}

// TouchLastRun records a manual firing in one transaction: the produced
// task is inserted and only lastRunAt moves, nextRunAt stays untouched.
// Fails when the schedule is missing or disabled.
func (r *Repository) TouchLastRun(ctx context.Context, id string, task *taskmodels.Task, ranAt time.Time) error {
	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE scheduled_tasks SET last_run_at = ?, last_updated_at = ?
			WHERE id = ? AND enabled = 1
		`), ranAt, ranAt, id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			var n int
			if err := tx.QueryRowxContext(ctx, tx.Rebind(
				`SELECT COUNT(*) FROM scheduled_tasks WHERE id = ?`), id).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("schedule not found: %s", id)
			}
			return fmt.Errorf("schedule is disabled: %s", id)
		}
		if err := tasksqlite.InsertTask(ctx, tx, task); err != nil {
			return err
		}
		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventScheduleFired,
			TaskID:    task.ID,
			Metadata:  map[string]string{"schedule_id": id, "manual": "true"},
		})
		return nil
	})
}

func scanSchedule(scanner interface{ Scan(dest ...any) error }) (*models.ScheduledTask, error) {
	s := &models.ScheduledTask{}
	var targetAgentID sql.NullString
	var tagsJSON string
	var nextRunAt, lastRunAt, lastErrorAt sql.NullTime
	if err := scanner.Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&s.TaskTemplate,
		&s.CronExpression,
		&s.Timezone,
		&s.IntervalMs,
		&targetAgentID,
		&s.Priority,
		&tagsJSON,
		&s.Enabled,
		&nextRunAt,
		&lastRunAt,
		&s.ConsecutiveErrors,
		&lastErrorAt,
		&s.LastErrorMessage,
		&s.CreatedAt,
		&s.LastUpdatedAt,
	); err != nil {
		return nil, err
	}
	s.TargetAgentID = targetAgentID.String
	if nextRunAt.Valid {
		s.NextRunAt = &nextRunAt.Time
	}
	if lastRunAt.Valid {
		s.LastRunAt = &lastRunAt.Time
	}
	if lastErrorAt.Valid {
		s.LastErrorAt = &lastErrorAt.Time
	}
	if tagsJSON != "" && tagsJSON != "[]" {
		if err := json.Unmarshal([]byte(tagsJSON), &s.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return s, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
