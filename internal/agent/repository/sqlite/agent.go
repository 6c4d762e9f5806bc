package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/store"
)

const agentColumns = `id, name, is_lead, status, max_tasks, empty_poll_count, role, description,
	capabilities, claude_md, soul_md, identity_md, setup_script, tools_md, created_at, last_updated_at`

// CreateAgent inserts a new agent row.
func (r *Repository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.Status == "" {
		agent.Status = models.StatusIdle
	}
	if agent.MaxTasks <= 0 {
		agent.MaxTasks = 1
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.LastUpdatedAt = now

	capabilities, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			agent.ID, agent.Name, agent.IsLead, agent.Status, agent.MaxTasks, agent.EmptyPollCount,
			nullStr(agent.Role), nullStr(agent.Description), string(capabilities),
			nullStr(agent.ClaudeMd), nullStr(agent.SoulMd), nullStr(agent.IdentityMd),
			nullStr(agent.SetupScript), nullStr(agent.ToolsMd),
			agent.CreatedAt, agent.LastUpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}
		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventAgentRegistered,
			AgentID:   agent.ID,
			NewValue:  agent.Name,
			Metadata:  map[string]string{"is_lead": fmt.Sprintf("%t", agent.IsLead)},
		})
		return nil
	})
}

// GetAgent retrieves an agent by ID.
func (r *Repository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found: %s", id)
	}
	return agent, err
}

// GetAgentByName retrieves an agent by its unique name.
func (r *Repository) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+agentColumns+` FROM agents WHERE name = ?`), name)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found: %s", name)
	}
	return agent, err
}

// ListAgents returns all agents ordered by name.
func (r *Repository) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := r.ro.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// Heartbeat bumps lastUpdatedAt. An offline agent comes back as idle; busy
// stays busy.
func (r *Repository) Heartbeat(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE agents SET last_updated_at = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE id = ?
	`), time.Now().UTC(), models.StatusOffline, models.StatusIdle, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	return nil
}

// SetStatus stores a derived or explicit status transition.
func (r *Repository) SetStatus(ctx context.Context, id string, status models.AgentStatus) error {
	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var prev models.AgentStatus
		err := tx.QueryRowContext(ctx, tx.Rebind(`SELECT status FROM agents WHERE id = ?`), id).Scan(&prev)
		if err != nil {
			return fmt.Errorf("agent not found: %s", id)
		}
		if prev == status {
			return nil
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE agents SET status = ?, last_updated_at = ? WHERE id = ?`),
			status, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventAgentStatusChange,
			AgentID:   id,
			OldValue:  string(prev),
			NewValue:  string(status),
		})
		return nil
	})
}

// CloseAgent transitions the agent to offline.
func (r *Repository) CloseAgent(ctx context.Context, id string) error {
	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE agents SET status = ?, last_updated_at = ? WHERE id = ?`),
			models.StatusOffline, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("agent not found: %s", id)
		}
		agentlog.Append(ctx, tx, &agentlog.Entry{
			EventType: agentlog.EventAgentClosed,
			AgentID:   id,
			NewValue:  string(models.StatusOffline),
		})
		return nil
	})
}

// ReviveAgent brings an offline agent back to idle and resets its poll
// counter; used by re-registration.
func (r *Repository) ReviveAgent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE agents SET empty_poll_count = 0, last_updated_at = ?,
			status = CASE WHEN status = ? THEN ? ELSE status END
		WHERE id = ?
	`), time.Now().UTC(), models.StatusOffline, models.StatusIdle, id)
	return err
}

// IncrementEmptyPolls bumps the consecutive empty-poll counter and returns
// the new value.
func (r *Repository) IncrementEmptyPolls(ctx context.Context, id string) (int, error) {
	var count int
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE agents SET empty_poll_count = empty_poll_count + 1 WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("agent not found: %s", id)
		}
		return tx.QueryRowContext(ctx, tx.Rebind(
			`SELECT empty_poll_count FROM agents WHERE id = ?`), id).Scan(&count)
	})
	return count, err
}

// ResetEmptyPolls clears the counter after a non-null poll result.
func (r *Repository) ResetEmptyPolls(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE agents SET empty_poll_count = 0 WHERE id = ?`), id)
	return err
}

// DeleteAgent removes an agent and, via cascade, its context versions.
func (r *Repository) DeleteAgent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	return nil
}

func scanAgent(row interface{ Scan(dest ...interface{}) error }) (*models.Agent, error) {
	var a models.Agent
	var role, description, capabilities sql.NullString
	var claudeMd, soulMd, identityMd, setupScript, toolsMd sql.NullString

	err := row.Scan(&a.ID, &a.Name, &a.IsLead, &a.Status, &a.MaxTasks, &a.EmptyPollCount,
		&role, &description, &capabilities,
		&claudeMd, &soulMd, &identityMd, &setupScript, &toolsMd,
		&a.CreatedAt, &a.LastUpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Role = role.String
	a.Description = description.String
	a.ClaudeMd = claudeMd.String
	a.SoulMd = soulMd.String
	a.IdentityMd = identityMd.String
	a.SetupScript = setupScript.String
	a.ToolsMd = toolsMd.String
	if capabilities.Valid && capabilities.String != "" {
		_ = json.Unmarshal([]byte(capabilities.String), &a.Capabilities)
	}
	return &a, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
