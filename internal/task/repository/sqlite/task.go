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
	"github.com/agentswarm/agentswarm/internal/store"
	"github.com/agentswarm/agentswarm/internal/task/models"
	"github.com/agentswarm/agentswarm/internal/tracing"
)

// taskColumns is the canonical SELECT column list for agent_tasks.
const taskColumns = `id, agent_id, creator_agent_id, task, status, source, task_type, tags, priority, depends_on,
	offered_to, offered_at, accepted_at, rejection_reason,
	slack_channel, slack_ts, github_repo, github_issue_number, agentmail_thread_id,
	mention_message_id, mention_channel_id, epic_id, parent_task_id, claude_session_id,
	progress, output, failure_reason, created_at, last_updated_at, finished_at, notified_at`

// InsertTask writes a new task row and its creation audit entry on q,
// which lets callers compose the insert into a wider transaction. The
// caller is responsible for deriving the initial status.
func InsertTask(ctx context.Context, q sqlx.ExtContext, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.LastUpdatedAt = now
	if task.Source == "" {
		task.Source = models.SourceAPI
	}

	tags, err := json.Marshal(task.Tags)
	if err != nil {
		tags = []byte("[]")
	}
	dependsOn, err := json.Marshal(task.DependsOn)
	if err != nil {
		dependsOn = []byte("[]")
	}

	_, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO agent_tasks (id, agent_id, creator_agent_id, task, status, source, task_type, tags, priority, depends_on,
			offered_to, offered_at, accepted_at, rejection_reason,
			slack_channel, slack_ts, github_repo, github_issue_number, agentmail_thread_id,
			mention_message_id, mention_channel_id, epic_id, parent_task_id, claude_session_id,
			progress, output, failure_reason, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, nullStr(task.AgentID), nullStr(task.CreatorAgentID), task.Description, task.Status, task.Source,
		task.TaskType, string(tags), task.Priority, string(dependsOn),
		nullStr(task.OfferedTo), task.OfferedAt, task.AcceptedAt, task.RejectionReason,
		task.SlackChannel, task.SlackTs, task.GithubRepo, task.GithubIssueNumber, task.AgentmailThreadID,
		nullStr(task.MentionMessageID), nullStr(task.MentionChannelID), nullStr(task.EpicID), nullStr(task.ParentTaskID), task.ClaudeSessionID,
		task.Progress, task.Output, task.FailureReason, task.CreatedAt, task.LastUpdatedAt)
	if err != nil {
		return err
	}

	agentlog.Append(ctx, q, &agentlog.Entry{
		EventType: agentlog.EventTaskCreated,
		AgentID:   task.AgentID,
		TaskID:    task.ID,
		NewValue:  string(task.Status),
		Metadata:  map[string]string{"source": string(task.Source)},
	})
	return nil
}

// CreateTask inserts a new task and its creation audit entry atomically.
func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return InsertTask(ctx, tx, task)
	})
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(
		`SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks matching the filter with the total match count.
func (r *Repository) ListTasks(ctx context.Context, filter models.ListFilter) ([]*models.Task, int, error) {
	ctx, span := tracing.Tracer("swarmd-db").Start(ctx, "db.ListTasks")
	defer span.End()

	where := " WHERE 1=1"
	var args []interface{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.AgentID != "" {
		where += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.EpicID != "" {
		where += " AND epic_id = ?"
		args = append(args, filter.EpicID)
	}
	if filter.Source != "" {
		where += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Tag != "" {
		// Tags are stored as a JSON array of strings.
		where += " AND tags LIKE ?"
		args = append(args, `%"`+filter.Tag+`"%`)
	}

	var total int
	if err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`SELECT COUNT(*) FROM agent_tasks`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + taskColumns + ` FROM agent_tasks` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// MarkNotified stamps notifiedAt on the given tasks.
func (r *Repository) MarkNotified(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE agent_tasks SET notified_at = ? WHERE id IN (?)`, time.Now().UTC(), taskIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}

// ResetNotified clears notifiedAt on the given tasks so their triggers
// fire again on the next poll.
func (r *Repository) ResetNotified(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE agent_tasks SET notified_at = NULL WHERE id IN (?)`, taskIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}

// AttachClaudeSession records the CLI session id a worker bound to the task.
func (r *Repository) AttachClaudeSession(ctx context.Context, taskID, sessionID string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE agent_tasks SET claude_session_id = ?, last_updated_at = ? WHERE id = ?
	`), sessionID, time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

// CountForAgentByStatus returns how many tasks an agent holds in a status.
func (r *Repository) CountForAgentByStatus(ctx context.Context, agentID string, status models.TaskStatus) (int, error) {
	var count int
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(
		`SELECT COUNT(*) FROM agent_tasks WHERE agent_id = ? AND status = ?`), agentID, status).Scan(&count)
	return count, err
}

// CountUnassigned returns the size of the claimable pool.
func (r *Repository) CountUnassigned(ctx context.Context) (int, error) {
	return CountPoolTasks(ctx, r.ro)
}

// CountActiveTasks returns the agent's in_progress task count, the input to
// capacity derivation.
func (r *Repository) CountActiveTasks(ctx context.Context, agentID string) (int, error) {
	return r.CountForAgentByStatus(ctx, agentID, models.StatusInProgress)
}

// CountActiveByAgent returns in_progress task counts grouped by agent.
func (r *Repository) CountActiveByAgent(ctx context.Context) (map[string]int, error) {
	rows, err := r.ro.QueryContext(ctx,
		`SELECT agent_id, COUNT(*) FROM agent_tasks WHERE status = 'in_progress' AND agent_id IS NOT NULL GROUP BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		counts[agentID] = count
	}
	return counts, rows.Err()
}

// scanTask scans a single task row using the taskColumns order.
func scanTask(row interface{ Scan(dest ...interface{}) error }) (*models.Task, error) {
	task := &models.Task{}
	var agentID, creatorAgentID, offeredTo sql.NullString
	var mentionMessageID, mentionChannelID, epicID, parentTaskID sql.NullString
	var offeredAt, acceptedAt, finishedAt, notifiedAt sql.NullTime
	var tags, dependsOn string

	err := row.Scan(
		&task.ID, &agentID, &creatorAgentID, &task.Description, &task.Status, &task.Source,
		&task.TaskType, &tags, &task.Priority, &dependsOn,
		&offeredTo, &offeredAt, &acceptedAt, &task.RejectionReason,
		&task.SlackChannel, &task.SlackTs, &task.GithubRepo, &task.GithubIssueNumber, &task.AgentmailThreadID,
		&mentionMessageID, &mentionChannelID, &epicID, &parentTaskID, &task.ClaudeSessionID,
		&task.Progress, &task.Output, &task.FailureReason,
		&task.CreatedAt, &task.LastUpdatedAt, &finishedAt, &notifiedAt,
	)
	if err != nil {
		return nil, err
	}

	task.AgentID = agentID.String
	task.CreatorAgentID = creatorAgentID.String
	task.OfferedTo = offeredTo.String
	task.MentionMessageID = mentionMessageID.String
	task.MentionChannelID = mentionChannelID.String
	task.EpicID = epicID.String
	task.ParentTaskID = parentTaskID.String
	if offeredAt.Valid {
		task.OfferedAt = &offeredAt.Time
	}
	if acceptedAt.Valid {
		task.AcceptedAt = &acceptedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	if notifiedAt.Valid {
		task.NotifiedAt = &notifiedAt.Time
	}
	_ = json.Unmarshal([]byte(tags), &task.Tags)
	_ = json.Unmarshal([]byte(dependsOn), &task.DependsOn)
	return task, nil
}

// scanTasks is a helper to scan task rows.
func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var result []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

// getTaskTx loads a task inside a transaction.
func getTaskTx(ctx context.Context, q sqlx.ExtContext, id string) (*models.Task, error) {
	row := q.QueryRowxContext(ctx, q.Rebind(
		`SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return task, err
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
