package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/messaging/models"
	"github.com/agentswarm/agentswarm/internal/store"
)

const channelColumns = `id, name, description, created_by, epic_id, created_at, last_updated_at`

const messageColumns = `id, channel_id, author_id, content, mentions, thread_id, created_at`

// CreateChannel inserts a new channel. Duplicate names surface the UNIQUE
// violation to the caller.
func (r *Repository) CreateChannel(ctx context.Context, channel *models.Channel) error {
	if channel.ID == "" {
		channel.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	channel.CreatedAt = now
	channel.LastUpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO channels (`+channelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), channel.ID, channel.Name, channel.Description, nullStr(channel.CreatedBy),
		nullStr(channel.EpicID), channel.CreatedAt, channel.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	return nil
}

// GetChannel retrieves a channel by ID.
func (r *Repository) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+channelColumns+` FROM channels WHERE id = ?`), id)
	channel, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("channel not found: %s", id)
	}
	return channel, err
}

// GetChannelByName retrieves a channel by its unique name.
func (r *Repository) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+channelColumns+` FROM channels WHERE name = ?`), name)
	channel, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("channel not found: %s", name)
	}
	return channel, err
}

// ListChannels returns all channels ordered by name.
func (r *Repository) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	rows, err := r.ro.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []*models.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// PostMessage inserts a channel message and bumps the channel's update time.
func (r *Repository) PostMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now().UTC()

	mentions, err := json.Marshal(msg.Mentions)
	if err != nil {
		return fmt.Errorf("failed to marshal mentions: %w", err)
	}

	return store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO channel_messages (`+messageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), msg.ID, msg.ChannelID, nullStr(msg.AuthorID), msg.Content,
			string(mentions), nullStr(msg.ThreadID), msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to post message: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE channels SET last_updated_at = ? WHERE id = ?`), msg.CreatedAt, msg.ChannelID)
		return err
	})
}

// GetMessage retrieves a channel message by ID.
func (r *Repository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+messageColumns+` FROM channel_messages WHERE id = ?`), id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	return msg, err
}

// ListMessages returns messages in a channel, oldest first, plus the total
// count for pagination.
func (r *Repository) ListMessages(ctx context.Context, channelID string, limit, offset int) ([]*models.Message, int, error) {
	var total int
	if err := r.ro.QueryRowContext(ctx, r.ro.Rebind(
		`SELECT COUNT(*) FROM channel_messages WHERE channel_id = ?`), channelID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + messageColumns + ` FROM channel_messages WHERE channel_id = ? ORDER BY created_at ASC`
	args := []interface{}{channelID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// ListThread returns the replies to a parent message, oldest first.
func (r *Repository) ListThread(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(
		`SELECT `+messageColumns+` FROM channel_messages WHERE thread_id = ? ORDER BY created_at ASC`), threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UnreadMentionMessages returns the unread messages in a channel that mention
// the agent, oldest first. Used by workers after a successful claim.
func (r *Repository) UnreadMentionMessages(ctx context.Context, agentID, channelID string) ([]*models.Message, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT `+prefixedMessageColumns("m")+`
		FROM channel_messages m
		LEFT JOIN channel_read_states rs ON rs.channel_id = m.channel_id AND rs.agent_id = ?
		WHERE m.channel_id = ?
		  AND (rs.last_read_at IS NULL OR m.created_at > rs.last_read_at)
		  AND EXISTS (SELECT 1 FROM json_each(m.mentions) WHERE json_each.value = ?)
		ORDER BY m.created_at ASC
	`), agentID, channelID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanChannel(scanner interface{ Scan(dest ...any) error }) (*models.Channel, error) {
	channel := &models.Channel{}
	var createdBy, epicID sql.NullString
	if err := scanner.Scan(
		&channel.ID,
		&channel.Name,
		&channel.Description,
		&createdBy,
		&epicID,
		&channel.CreatedAt,
		&channel.LastUpdatedAt,
	); err != nil {
		return nil, err
	}
	channel.CreatedBy = createdBy.String
	channel.EpicID = epicID.String
	return channel, nil
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*models.Message, error) {
	msg := &models.Message{}
	var authorID, threadID sql.NullString
	var mentionsJSON string
	if err := scanner.Scan(
		&msg.ID,
		&msg.ChannelID,
		&authorID,
		&msg.Content,
		&mentionsJSON,
		&threadID,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	msg.AuthorID = authorID.String
	msg.ThreadID = threadID.String
	if mentionsJSON != "" && mentionsJSON != "[]" {
		if err := json.Unmarshal([]byte(mentionsJSON), &msg.Mentions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mentions: %w", err)
		}
	}
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
