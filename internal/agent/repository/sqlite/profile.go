package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/store"
)

const versionColumns = `id, agent_id, field, version, content, content_hash, change_source, changed_by_agent_id, change_reason, previous_version_id, created_at`

// UpdateProfile applies a coalescing profile update in one transaction.
// Persona fields are content-hashed: a changed hash appends a new
// ContextVersion chained to the previous one, identical bytes append
// nothing. Returns the updated agent and any versions created.
func (r *Repository) UpdateProfile(ctx context.Context, agentID string, update *models.ProfileUpdate) (*models.Agent, []*models.ContextVersion, error) {
	changeSource := update.ChangeSource
	if changeSource == "" {
		changeSource = "api"
	}

	var agent *models.Agent
	var created []*models.ContextVersion
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		agent, err = getAgentTx(ctx, tx, agentID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()

		var changed []string
		personas := update.PersonaUpdates()
		for _, field := range models.PersonaFields {
			ptr := personas[field]
			if ptr == nil {
				continue
			}
			version, err := appendVersion(ctx, tx, agentID, field, *ptr, update, changeSource, now)
			if err != nil {
				return err
			}
			if version != nil {
				created = append(created, version)
				changed = append(changed, field)
			}
			setPersonaField(agent, field, *ptr)
		}

		if update.Role != nil {
			agent.Role = *update.Role
			changed = append(changed, "role")
		}
		if update.Description != nil {
			agent.Description = *update.Description
			changed = append(changed, "description")
		}
		if update.Capabilities != nil {
			agent.Capabilities = *update.Capabilities
			changed = append(changed, "capabilities")
		}
		if update.MaxTasks != nil {
			agent.MaxTasks = *update.MaxTasks
			changed = append(changed, "max_tasks")
		}

		capabilities, err := json.Marshal(agent.Capabilities)
		if err != nil {
			return fmt.Errorf("failed to marshal capabilities: %w", err)
		}
		agent.LastUpdatedAt = now
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE agents SET role = ?, description = ?, capabilities = ?, max_tasks = ?,
				claude_md = ?, soul_md = ?, identity_md = ?, setup_script = ?, tools_md = ?,
				last_updated_at = ?
			WHERE id = ?
		`),
			nullStr(agent.Role), nullStr(agent.Description), string(capabilities), agent.MaxTasks,
			nullStr(agent.ClaudeMd), nullStr(agent.SoulMd), nullStr(agent.IdentityMd),
			nullStr(agent.SetupScript), nullStr(agent.ToolsMd),
			now, agentID)
		if err != nil {
			return err
		}

		if len(changed) > 0 {
			agentlog.Append(ctx, tx, &agentlog.Entry{
				EventType: agentlog.EventProfileEdited,
				AgentID:   agentID,
				NewValue:  strings.Join(changed, ","),
				Metadata:  map[string]string{"change_source": changeSource},
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return agent, created, nil
}

// appendVersion writes a new context version when the content hash moved.
// Returns nil when the content is byte-identical to the latest version.
func appendVersion(ctx context.Context, tx *sqlx.Tx, agentID, field, content string, update *models.ProfileUpdate, changeSource string, now time.Time) (*models.ContextVersion, error) {
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	var prevID string
	var prevVersion int
	var prevHash string
	err := tx.QueryRowContext(ctx, tx.Rebind(`
		SELECT id, version, content_hash FROM agent_context_versions
		WHERE agent_id = ? AND field = ?
		ORDER BY version DESC LIMIT 1
	`), agentID, field).Scan(&prevID, &prevVersion, &prevHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil && prevHash == hash {
		return nil, nil
	}

	version := &models.ContextVersion{
		ID:                uuid.New().String(),
		AgentID:           agentID,
		Field:             field,
		Version:           prevVersion + 1,
		Content:           content,
		ContentHash:       hash,
		ChangeSource:      changeSource,
		ChangedByAgentID:  update.ChangedByAgentID,
		ChangeReason:      update.ChangeReason,
		PreviousVersionID: prevID,
		CreatedAt:         now,
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO agent_context_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), version.ID, version.AgentID, version.Field, version.Version, version.Content,
		version.ContentHash, version.ChangeSource, nullStr(version.ChangedByAgentID),
		nullStr(version.ChangeReason), nullStr(version.PreviousVersionID), version.CreatedAt)
	if err != nil {
		return nil, err
	}
	return version, nil
}

func setPersonaField(agent *models.Agent, field, content string) {
	switch field {
	case models.FieldClaudeMd:
		agent.ClaudeMd = content
	case models.FieldSoulMd:
		agent.SoulMd = content
	case models.FieldIdentityMd:
		agent.IdentityMd = content
	case models.FieldSetupScript:
		agent.SetupScript = content
	case models.FieldToolsMd:
		agent.ToolsMd = content
	}
}

// ListContextVersions returns version history for an agent, newest first.
// Empty field means all fields.
func (r *Repository) ListContextVersions(ctx context.Context, agentID, field string) ([]*models.ContextVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM agent_context_versions WHERE agent_id = ?`
	args := []interface{}{agentID}
	if field != "" {
		query += ` AND field = ?`
		args = append(args, field)
	}
	query += ` ORDER BY field ASC, version DESC`

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.ContextVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetLatestContextVersion returns the newest version for (agent, field), or
// a not-found error when none exists.
func (r *Repository) GetLatestContextVersion(ctx context.Context, agentID, field string) (*models.ContextVersion, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(`
		SELECT `+versionColumns+` FROM agent_context_versions
		WHERE agent_id = ? AND field = ?
		ORDER BY version DESC LIMIT 1
	`), agentID, field)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("context version not found: %s/%s", agentID, field)
	}
	return v, err
}

func scanVersion(row interface{ Scan(dest ...interface{}) error }) (*models.ContextVersion, error) {
	var v models.ContextVersion
	var changedBy, reason, prevID sql.NullString
	err := row.Scan(&v.ID, &v.AgentID, &v.Field, &v.Version, &v.Content,
		&v.ContentHash, &v.ChangeSource, &changedBy, &reason, &prevID, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.ChangedByAgentID = changedBy.String
	v.ChangeReason = reason.String
	v.PreviousVersionID = prevID.String
	return &v, nil
}

func getAgentTx(ctx context.Context, q sqlx.ExtContext, id string) (*models.Agent, error) {
	row := q.QueryRowxContext(ctx, q.Rebind(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found: %s", id)
	}
	return agent, err
}
