package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/messaging/models"
	"github.com/agentswarm/agentswarm/internal/store"
)

// prefixedMessageColumns qualifies every message column with a table alias
// for join queries.
func prefixedMessageColumns(alias string) string {
	cols := strings.Split(messageColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// readEpoch is the watermark stored for an agent that has never read a
// channel; everything after it counts as unread.
var readEpoch = time.Unix(0, 0).UTC()

// The poll endpoint claims mentions inside its own transaction, so the claim
// queries take sqlx.ExtContext and are usable both standalone (through the
// Repository wrappers) and composed into the dispatcher's transaction.

// UnreadMentions returns, per channel, the count of unread messages that
// mention the agent, together with the current advisory-lock state. It does
// not claim anything.
func UnreadMentions(ctx context.Context, q sqlx.ExtContext, agentID string) ([]*models.ClaimedChannel, []bool, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT c.id, c.name, rs.last_read_at, rs.processing_since, COUNT(m.id) AS unread
		FROM channel_messages m
		JOIN channels c ON c.id = m.channel_id
		LEFT JOIN channel_read_states rs ON rs.channel_id = m.channel_id AND rs.agent_id = ?
		WHERE (rs.last_read_at IS NULL OR m.created_at > rs.last_read_at)
		  AND EXISTS (SELECT 1 FROM json_each(m.mentions) WHERE json_each.value = ?)
		GROUP BY c.id, c.name, rs.last_read_at, rs.processing_since
		ORDER BY c.name ASC
	`), agentID, agentID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var channels []*models.ClaimedChannel
	var locked []bool
	for rows.Next() {
		ch := &models.ClaimedChannel{}
		var lastReadAt, processingSince sql.NullTime
		if err := rows.Scan(&ch.ChannelID, &ch.ChannelName, &lastReadAt, &processingSince, &ch.Count); err != nil {
			return nil, nil, err
		}
		ch.LastReadAt = readEpoch
		if lastReadAt.Valid {
			ch.LastReadAt = lastReadAt.Time
		}
		channels = append(channels, ch)
		locked = append(locked, processingSince.Valid)
	}
	return channels, locked, rows.Err()
}

// ClaimMentions attempts to take the advisory lock on every channel where the
// agent has unread mentions. A channel already held by an earlier claim is
// skipped; only channels actually won are returned. Runs entirely on q so the
// dispatcher can fold it into the poll transaction.
func ClaimMentions(ctx context.Context, q sqlx.ExtContext, agentID string) ([]*models.ClaimedChannel, error) {
	channels, locked, err := UnreadMentions(ctx, q, agentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var claimed []*models.ClaimedChannel
	for i, ch := range channels {
		if locked[i] {
			continue
		}
		res, err := q.ExecContext(ctx, q.Rebind(`
			INSERT INTO channel_read_states (agent_id, channel_id, last_read_at, processing_since)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(agent_id, channel_id) DO UPDATE SET processing_since = excluded.processing_since
			WHERE channel_read_states.processing_since IS NULL
		`), agentID, ch.ChannelID, readEpoch, now)
		if err != nil {
			return nil, fmt.Errorf("failed to claim channel %s: %w", ch.ChannelID, err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			continue
		}
		claimed = append(claimed, ch)
	}

	if len(claimed) > 0 {
		names := make([]string, len(claimed))
		for i, ch := range claimed {
			names[i] = ch.ChannelName
		}
		agentlog.Append(ctx, q, &agentlog.Entry{
			EventType: agentlog.EventMentionsClaimed,
			AgentID:   agentID,
			NewValue:  strings.Join(names, ","),
			Metadata:  map[string]string{"channels": fmt.Sprintf("%d", len(claimed))},
		})
	}
	return claimed, nil
}

// ReleaseMentionProcessing clears the advisory lock on the given channels.
func ReleaseMentionProcessing(ctx context.Context, q sqlx.ExtContext, agentID string, channelIDs []string) error {
	if len(channelIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE channel_read_states SET processing_since = NULL
		WHERE agent_id = ? AND channel_id IN (?)
	`, agentID, channelIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, q.Rebind(query), args...)
	return err
}

// ReleaseStaleMentionProcessing clears advisory locks held longer than the
// cutoff. Returns the number of channels released.
func ReleaseStaleMentionProcessing(ctx context.Context, q sqlx.ExtContext, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE channel_read_states SET processing_since = NULL
		WHERE processing_since IS NOT NULL AND processing_since < ?
	`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadMentions reports the agent's unread mention counts without claiming.
func (r *Repository) UnreadMentions(ctx context.Context, agentID string) ([]*models.ClaimedChannel, error) {
	channels, _, err := UnreadMentions(ctx, r.ro, agentID)
	return channels, err
}

// ClaimMentions takes the advisory lock on every claimable channel in one
// transaction.
func (r *Repository) ClaimMentions(ctx context.Context, agentID string) ([]*models.ClaimedChannel, error) {
	var claimed []*models.ClaimedChannel
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		claimed, err = ClaimMentions(ctx, tx, agentID)
		return err
	})
	return claimed, err
}

// ReleaseMentionProcessing clears the agent's advisory lock on the channels.
func (r *Repository) ReleaseMentionProcessing(ctx context.Context, agentID string, channelIDs []string) error {
	return ReleaseMentionProcessing(ctx, r.db, agentID, channelIDs)
}

// ReleaseStaleMentionProcessing is the periodic sweep for abandoned claims.
func (r *Repository) ReleaseStaleMentionProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	return ReleaseStaleMentionProcessing(ctx, r.db, cutoff)
}

// MarkChannelRead moves the agent's read watermark to now and drops any
// advisory lock the agent held on the channel.
func (r *Repository) MarkChannelRead(ctx context.Context, agentID, channelID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO channel_read_states (agent_id, channel_id, last_read_at, processing_since)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(agent_id, channel_id) DO UPDATE SET
			last_read_at = excluded.last_read_at,
			processing_since = NULL
	`), agentID, channelID, time.Now().UTC())
	return err
}

// GetReadState returns the agent's read state for a channel, or nil if the
// agent has never read it.
func (r *Repository) GetReadState(ctx context.Context, agentID, channelID string) (*models.ReadState, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(`
		SELECT agent_id, channel_id, last_read_at, processing_since
		FROM channel_read_states WHERE agent_id = ? AND channel_id = ?
	`), agentID, channelID)
	state := &models.ReadState{}
	var processingSince sql.NullTime
	err := row.Scan(&state.AgentID, &state.ChannelID, &state.LastReadAt, &processingSince)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if processingSince.Valid {
		state.ProcessingSince = &processingSince.Time
	}
	return state, nil
}
