package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentswarm/agentswarm/internal/session/models"
)

const costColumns = `id, agent_id, task_id, session_id, model, input_tokens, output_tokens,
	cache_read_tokens, cache_creation_tokens, total_cost_usd, duration_ms, num_turns, created_at`

// CreateSessionCost stores one reported usage record verbatim.
func (r *Repository) CreateSessionCost(ctx context.Context, c *models.SessionCost) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO session_costs (`+costColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.AgentID, c.TaskID, c.SessionID, c.Model,
		c.InputTokens, c.OutputTokens, c.CacheReadTokens, c.CacheCreationTokens,
		c.TotalCostUSD, c.DurationMs, c.NumTurns, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session cost: %w", err)
	}
	return nil
}

// ListSessionCosts returns cost records matching the filter, newest first.
func (r *Repository) ListSessionCosts(ctx context.Context, filter models.CostFilter) ([]*models.SessionCost, error) {
	query := `SELECT ` + costColumns + ` FROM session_costs WHERE 1=1`
	var args []interface{}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var costs []*models.SessionCost
	for rows.Next() {
		c, err := scanCost(rows)
		if err != nil {
			return nil, err
		}
		costs = append(costs, c)
	}
	return costs, rows.Err()
}

// CostSummary aggregates all cost records into swarm-wide totals.
func (r *Repository) CostSummary(ctx context.Context) (*models.CostSummary, error) {
	// Separate scalar subqueries keep SUM and COUNT independent of each other
	query := `
		SELECT
			COUNT(*) as total_sessions,
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COALESCE(SUM(cache_read_tokens), 0) as total_cache_read,
			COALESCE(SUM(cache_creation_tokens), 0) as total_cache_creation,
			COALESCE(SUM(total_cost_usd), 0) as total_cost,
			COALESCE(SUM(duration_ms), 0) as total_duration,
			COALESCE(SUM(num_turns), 0) as total_turns
		FROM session_costs
	`
	var s models.CostSummary
	err := r.ro.QueryRowContext(ctx, query).Scan(
		&s.TotalSessions, &s.TotalInputTokens, &s.TotalOutputTokens,
		&s.TotalCacheRead, &s.TotalCacheCreation,
		&s.TotalCostUSD, &s.TotalDurationMs, &s.TotalTurns)
	if err != nil {
		return nil, err
	}

	if s.TotalSessions > 0 {
		s.AvgCostPerSession = s.TotalCostUSD / float64(s.TotalSessions)
		s.AvgTurnsPerSession = float64(s.TotalTurns) / float64(s.TotalSessions)
		s.AvgDurationPerRunMs = s.TotalDurationMs / s.TotalSessions
	}
	return &s, nil
}

// CostDashboard returns the swarm summary plus a per-agent usage breakdown.
func (r *Repository) CostDashboard(ctx context.Context) (*models.CostDashboard, error) {
	summary, err := r.CostSummary(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT
			c.agent_id,
			COALESCE(a.name, c.agent_id) as agent_name,
			COUNT(*) as session_count,
			COALESCE(SUM(c.input_tokens + c.output_tokens + c.cache_read_tokens + c.cache_creation_tokens), 0) as total_tokens,
			COALESCE(SUM(c.total_cost_usd), 0) as total_cost,
			COALESCE(SUM(c.num_turns), 0) as total_turns,
			MAX(c.created_at) as last_active_at
		FROM session_costs c
		LEFT JOIN agents a ON a.id = c.agent_id
		GROUP BY c.agent_id
		ORDER BY total_cost DESC
	`
	rows, err := r.ro.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dashboard := &models.CostDashboard{Summary: *summary}
	for rows.Next() {
		var u models.AgentCostUsage
		var lastActive sql.NullString
		err := rows.Scan(&u.AgentID, &u.AgentName, &u.SessionCount,
			&u.TotalTokens, &u.TotalCostUSD, &u.TotalTurns, &lastActive)
		if err != nil {
			return nil, err
		}
		if lastActive.Valid {
			u.LastActiveAt = &lastActive.String
		}
		dashboard.Agents = append(dashboard.Agents, &u)
	}
	return dashboard, rows.Err()
}

const logColumns = `id, agent_id, task_id, session_id, content, created_at`

// CreateSessionLog appends one worker output line.
func (r *Repository) CreateSessionLog(ctx context.Context, l *models.SessionLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO session_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), l.ID, l.AgentID, l.TaskID, l.SessionID, l.Content, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session log: %w", err)
	}
	return nil
}

// ListSessionLogs returns log lines for a task or session, oldest first.
func (r *Repository) ListSessionLogs(ctx context.Context, taskID, sessionID string) ([]*models.SessionLog, error) {
	query := `SELECT ` + logColumns + ` FROM session_logs WHERE 1=1`
	var args []interface{}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.SessionLog
	for rows.Next() {
		var l models.SessionLog
		if err := rows.Scan(&l.ID, &l.AgentID, &l.TaskID, &l.SessionID, &l.Content, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func scanCost(scanner interface{ Scan(dest ...any) error }) (*models.SessionCost, error) {
	var c models.SessionCost
	err := scanner.Scan(&c.ID, &c.AgentID, &c.TaskID, &c.SessionID, &c.Model,
		&c.InputTokens, &c.OutputTokens, &c.CacheReadTokens, &c.CacheCreationTokens,
		&c.TotalCostUSD, &c.DurationMs, &c.NumTurns, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
