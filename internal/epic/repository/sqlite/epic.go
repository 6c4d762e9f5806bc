package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/epic/models"
	"github.com/agentswarm/agentswarm/internal/store"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
)

const epicColumns = `id, name, goal, status, priority, tags, lead_agent_id, channel_id,
	progress_notified_at, created_at, last_updated_at, started_at, completed_at`

// CreateEpic inserts a new epic row. Duplicate names surface the UNIQUE
// violation to the caller.
func (r *Repository) CreateEpic(ctx context.Context, epic *models.Epic) error {
	if epic.ID == "" {
		epic.ID = uuid.New().String()
	}
	if epic.Status == "" {
		epic.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	epic.CreatedAt = now
	epic.LastUpdatedAt = now

	tags, err := json.Marshal(epic.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO epics (`+epicColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, NULL, NULL)
		`), epic.ID, epic.Name, epic.Goal, epic.Status, epic.Priority, string(tags),
			nullStr(epic.LeadAgentID), nullStr(epic.ChannelID), epic.CreatedAt, epic.LastUpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create epic: %w", err)
		}
		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventEpicCreated,
			AgentID:   epic.LeadAgentID,
			NewValue:  epic.Name,
			Metadata:  map[string]string{"epic_id": epic.ID},
		})
		return nil
	})
}

// GetEpic retrieves an epic by ID.
func (r *Repository) GetEpic(ctx context.Context, id string) (*models.Epic, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+epicColumns+` FROM epics WHERE id = ?`), id)
	epic, err := scanEpic(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("epic not found: %s", id)
	}
	return epic, err
}

// GetEpicByName retrieves an epic by its unique name.
func (r *Repository) GetEpicByName(ctx context.Context, name string) (*models.Epic, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+epicColumns+` FROM epics WHERE name = ?`), name)
	epic, err := scanEpic(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("epic not found: %s", name)
	}
	return epic, err
}

// ListEpics returns epics ordered by priority then creation time, optionally
// filtered by status.
func (r *Repository) ListEpics(ctx context.Context, status models.EpicStatus) ([]*models.Epic, error) {
	query := `SELECT ` + epicColumns + ` FROM epics`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epics []*models.Epic
	for rows.Next() {
		epic, err := scanEpic(rows)
		if err != nil {
			return nil, err
		}
		epics = append(epics, epic)
	}
	return epics, rows.Err()
}

// UpdateEpicStatus moves an epic to a new status. The first transition to
// active stamps startedAt; completed stamps completedAt.
func (r *Repository) UpdateEpicStatus(ctx context.Context, id string, status models.EpicStatus) (*models.Epic, error) {
	var epic *models.Epic
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, tx.Rebind(
			`SELECT `+epicColumns+` FROM epics WHERE id = ?`), id)
		current, err := scanEpic(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("epic not found: %s", id)
		}
		if err != nil {
			return err
		}
		if current.Status == status {
			epic = current
			return nil
		}

		now := time.Now().UTC()
		current.LastUpdatedAt = now
		if status == models.StatusActive && current.StartedAt == nil {
			current.StartedAt = &now
		}
		if status == models.StatusCompleted && current.CompletedAt == nil {
			current.CompletedAt = &now
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE epics SET status = ?, last_updated_at = ?, started_at = ?, completed_at = ?
			WHERE id = ?
		`), status, now, nullTime(current.StartedAt), nullTime(current.CompletedAt), id); err != nil {
			return err
		}

		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventEpicStatusChange,
			OldValue:  string(current.Status),
			NewValue:  string(status),
			Metadata:  map[string]string{"epic_id": id},
		})
		current.Status = status
		epic = current
		return nil
	})
	return epic, err
}

// EpicProgress derives the task breakdown for an epic; composable into the
// poll transaction.
func EpicProgress(ctx context.Context, q sqlx.ExtContext, epicID string) (*models.Progress, error) {
	p := &models.Progress{}
	err := q.QueryRowxContext(ctx, q.Rebind(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM agent_tasks WHERE epic_id = ?
	`), taskmodels.StatusCompleted, taskmodels.StatusFailed, taskmodels.StatusInProgress,
		taskmodels.StatusPending, taskmodels.StatusUnassigned, epicID).
		Scan(&p.Total, &p.Completed, &p.Failed, &p.InProgress, &p.Pending, &p.Unassigned)
	if err != nil {
		return nil, err
	}
	if p.Total > 0 {
		p.Progress = int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
	}
	return p, nil
}

// GetProgress derives the task breakdown standalone.
func (r *Repository) GetProgress(ctx context.Context, epicID string) (*models.Progress, error) {
	return EpicProgress(ctx, r.ro, epicID)
}

// The epic_progress trigger is evaluated inside the poll transaction, so the
// selection below takes sqlx.ExtContext.

// EpicsWithProgressUpdates returns active epics with a child task finished
// after the last progress notification.
func EpicsWithProgressUpdates(ctx context.Context, q sqlx.ExtContext) ([]*models.Epic, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT `+epicColumns+` FROM epics e
		WHERE e.status = ?
		  AND EXISTS (
			SELECT 1 FROM agent_tasks t
			WHERE t.epic_id = e.id
			  AND t.status IN (?, ?)
			  AND t.finished_at IS NOT NULL
			  AND (e.progress_notified_at IS NULL OR t.finished_at > e.progress_notified_at)
		  )
		ORDER BY e.created_at ASC
	`), models.StatusActive, taskmodels.StatusCompleted, taskmodels.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epics []*models.Epic
	for rows.Next() {
		epic, err := scanEpic(rows)
		if err != nil {
			return nil, err
		}
		epics = append(epics, epic)
	}
	return epics, rows.Err()
}

// MarkEpicsProgressNotified stamps progressNotifiedAt after the trigger was
// delivered, so the same completions are not reported again.
func MarkEpicsProgressNotified(ctx context.Context, q sqlx.ExtContext, epicIDs []string) error {
	if len(epicIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE epics SET progress_notified_at = ? WHERE id IN (?)`,
		time.Now().UTC(), epicIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, q.Rebind(query), args...)
	return err
}

// GetEpicsWithProgressUpdates runs the trigger selection standalone.
func (r *Repository) GetEpicsWithProgressUpdates(ctx context.Context) ([]*models.Epic, error) {
	return EpicsWithProgressUpdates(ctx, r.ro)
}

// MarkEpicsProgressNotified stamps the given epics standalone.
func (r *Repository) MarkEpicsProgressNotified(ctx context.Context, epicIDs []string) error {
	return MarkEpicsProgressNotified(ctx, r.db, epicIDs)
}

func scanEpic(scanner interface{ Scan(dest ...any) error }) (*models.Epic, error) {
	epic := &models.Epic{}
	var goal string
	var tagsJSON string
	var leadAgentID, channelID sql.NullString
	var progressNotifiedAt, startedAt, completedAt sql.NullTime
	if err := scanner.Scan(
		&epic.ID,
		&epic.Name,
		&goal,
		&epic.Status,
		&epic.Priority,
		&tagsJSON,
		&leadAgentID,
		&channelID,
		&progressNotifiedAt,
		&epic.CreatedAt,
		&epic.LastUpdatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	epic.Goal = goal
	epic.LeadAgentID = leadAgentID.String
	epic.ChannelID = channelID.String
	if progressNotifiedAt.Valid {
		epic.ProgressNotifiedAt = &progressNotifiedAt.Time
	}
	if startedAt.Valid {
		epic.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		epic.CompletedAt = &completedAt.Time
	}
	if tagsJSON != "" && tagsJSON != "[]" {
		if err := json.Unmarshal([]byte(tagsJSON), &epic.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return epic, nil
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
