package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/messaging/models"
	"github.com/agentswarm/agentswarm/internal/store"
)

const inboxColumns = `id, agent_id, source, sender_name, external_thread_id, content, status,
	response_text, delegated_to_task_id, processing_since, created_at, last_updated_at`

// CreateInboxMessage inserts a new inbox message in unread state.
func (r *Repository) CreateInboxMessage(ctx context.Context, msg *models.InboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Source == "" {
		msg.Source = "api"
	}
	if msg.Status == "" {
		msg.Status = models.InboxUnread
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.LastUpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO inbox_messages (`+inboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)
	`), msg.ID, msg.AgentID, msg.Source, nullStr(msg.SenderName), nullStr(msg.ExternalThreadID),
		msg.Content, msg.Status, msg.CreatedAt, msg.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create inbox message: %w", err)
	}
	return nil
}

// GetInboxMessage retrieves an inbox message by ID.
func (r *Repository) GetInboxMessage(ctx context.Context, id string) (*models.InboxMessage, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(
		`SELECT `+inboxColumns+` FROM inbox_messages WHERE id = ?`), id)
	msg, err := scanInboxMessage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("inbox message not found: %s", id)
	}
	return msg, err
}

// ListInboxMessages returns the agent's inbox, newest first, optionally
// filtered by status.
func (r *Repository) ListInboxMessages(ctx context.Context, agentID string, status models.InboxStatus) ([]*models.InboxMessage, error) {
	query := `SELECT ` + inboxColumns + ` FROM inbox_messages WHERE agent_id = ?`
	args := []interface{}{agentID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInboxMessages(rows)
}

// CountUnreadInbox returns the number of unread inbox messages for the agent.
func (r *Repository) CountUnreadInbox(ctx context.Context, agentID string) (int, error) {
	var count int
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(
		`SELECT COUNT(*) FROM inbox_messages WHERE agent_id = ? AND status = ?`),
		agentID, models.InboxUnread).Scan(&count)
	return count, err
}

// ClaimInboxMessages atomically moves up to limit unread messages to
// processing and returns them, oldest first. Runs entirely on q so the
// dispatcher can fold it into the poll transaction.
func ClaimInboxMessages(ctx context.Context, q sqlx.ExtContext, agentID string, limit int) ([]*models.InboxMessage, error) {
	rows, err := q.QueryContext(ctx, q.Rebind(`
		SELECT id FROM inbox_messages
		WHERE agent_id = ? AND status = ?
		ORDER BY created_at ASC LIMIT ?
	`), agentID, models.InboxUnread, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	query, args, err := sqlx.In(`
		UPDATE inbox_messages SET status = ?, processing_since = ?, last_updated_at = ?
		WHERE id IN (?) AND status = ?
	`, models.InboxProcessing, now, now, ids, models.InboxUnread)
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, q.Rebind(query), args...); err != nil {
		return nil, err
	}

	query, args, err = sqlx.In(`
		SELECT `+inboxColumns+` FROM inbox_messages
		WHERE id IN (?) AND status = ?
		ORDER BY created_at ASC
	`, ids, models.InboxProcessing)
	if err != nil {
		return nil, err
	}
	claimedRows, err := q.QueryContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer claimedRows.Close()
	claimed, err := scanInboxMessages(claimedRows)
	if err != nil {
		return nil, err
	}

	if len(claimed) > 0 {
		agentlog.Append(ctx, q, &agentlog.Entry{
			EventType: agentlog.EventInboxClaimed,
			AgentID:   agentID,
			Metadata:  map[string]string{"messages": fmt.Sprintf("%d", len(claimed))},
		})
	}
	return claimed, nil
}

// ClaimInboxMessages claims up to limit unread messages in one transaction.
func (r *Repository) ClaimInboxMessages(ctx context.Context, agentID string, limit int) ([]*models.InboxMessage, error) {
	var claimed []*models.InboxMessage
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		claimed, err = ClaimInboxMessages(ctx, tx, agentID, limit)
		return err
	})
	return claimed, err
}

// SetInboxStatus transitions an inbox message. Processing requires the
// message to be unread; terminal states require unread or processing and
// clear the processing timestamp. Setting unread releases a processing
// claim. The outcome payload lands with its terminal state: responseText
// with responded, delegatedToTaskId with delegated.
func (r *Repository) SetInboxStatus(ctx context.Context, id string, status models.InboxStatus, outcome models.InboxOutcome) (*models.InboxMessage, error) {
	var msg *models.InboxMessage
	err := store.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, tx.Rebind(
			`SELECT `+inboxColumns+` FROM inbox_messages WHERE id = ?`), id)
		current, err := scanInboxMessage(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("inbox message not found: %s", id)
		}
		if err != nil {
			return err
		}
		if current.Status == status {
			msg = current
			return nil
		}
		if err := checkInboxTransition(current.Status, status); err != nil {
			return err
		}
		if err := checkInboxOutcome(status, outcome); err != nil {
			return err
		}

		now := time.Now().UTC()
		var processingSince interface{}
		if status == models.InboxProcessing {
			processingSince = now
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE inbox_messages SET status = ?, response_text = ?, delegated_to_task_id = ?,
				processing_since = ?, last_updated_at = ?
			WHERE id = ?
		`), status, nullStr(outcome.ResponseText), nullStr(outcome.DelegatedToTaskID),
			processingSince, now, id); err != nil {
			return err
		}

		current.Status = status
		current.ResponseText = outcome.ResponseText
		current.DelegatedToTaskID = outcome.DelegatedToTaskID
		current.LastUpdatedAt = now
		if status == models.InboxProcessing {
			current.ProcessingSince = &now
		} else {
			current.ProcessingSince = nil
		}
		msg = current
		return nil
	})
	return msg, err
}

// checkInboxOutcome rejects payloads that do not belong to the target state.
func checkInboxOutcome(to models.InboxStatus, outcome models.InboxOutcome) error {
	if outcome.ResponseText != "" && to != models.InboxResponded {
		return fmt.Errorf("responseText is only valid with status %s", models.InboxResponded)
	}
	if outcome.DelegatedToTaskID != "" && to != models.InboxDelegated {
		return fmt.Errorf("delegatedToTaskId is only valid with status %s", models.InboxDelegated)
	}
	return nil
}

func checkInboxTransition(from, to models.InboxStatus) error {
	switch to {
	case models.InboxProcessing:
		if from != models.InboxUnread {
			return fmt.Errorf("invalid inbox transition from %s to %s", from, to)
		}
	case models.InboxRead, models.InboxResponded, models.InboxDelegated:
		if from != models.InboxUnread && from != models.InboxProcessing {
			return fmt.Errorf("invalid inbox transition from %s to %s", from, to)
		}
	case models.InboxUnread:
		if from != models.InboxProcessing {
			return fmt.Errorf("invalid inbox transition from %s to %s", from, to)
		}
	default:
		return fmt.Errorf("unknown inbox status: %s", to)
	}
	return nil
}

// ReleaseStaleInboxProcessing returns messages stuck in processing past the
// cutoff to unread. Returns the number of messages released.
func ReleaseStaleInboxProcessing(ctx context.Context, q sqlx.ExtContext, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE inbox_messages SET status = ?, processing_since = NULL, last_updated_at = ?
		WHERE status = ? AND processing_since IS NOT NULL AND processing_since < ?
	`), models.InboxUnread, time.Now().UTC(), models.InboxProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseStaleInboxProcessing is the periodic sweep for abandoned claims.
func (r *Repository) ReleaseStaleInboxProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	return ReleaseStaleInboxProcessing(ctx, r.db, cutoff)
}

func scanInboxMessage(scanner interface{ Scan(dest ...any) error }) (*models.InboxMessage, error) {
	msg := &models.InboxMessage{}
	var senderName, externalThreadID, responseText, delegatedTo sql.NullString
	var processingSince sql.NullTime
	if err := scanner.Scan(
		&msg.ID,
		&msg.AgentID,
		&msg.Source,
		&senderName,
		&externalThreadID,
		&msg.Content,
		&msg.Status,
		&responseText,
		&delegatedTo,
		&processingSince,
		&msg.CreatedAt,
		&msg.LastUpdatedAt,
	); err != nil {
		return nil, err
	}
	msg.SenderName = senderName.String
	msg.ExternalThreadID = externalThreadID.String
	msg.ResponseText = responseText.String
	msg.DelegatedToTaskID = delegatedTo.String
	if processingSince.Valid {
		msg.ProcessingSince = &processingSince.Time
	}
	return msg, nil
}

func scanInboxMessages(rows *sql.Rows) ([]*models.InboxMessage, error) {
	var messages []*models.InboxMessage
	for rows.Next() {
		msg, err := scanInboxMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
