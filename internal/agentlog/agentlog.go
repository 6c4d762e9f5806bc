// Package agentlog records the immutable audit trail of kernel activity.
// Entries are appended inside the transaction that caused them; append
// failures are swallowed so the audit trail never aborts a mutation.
package agentlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentswarm/agentswarm/internal/common/logger"
)

// Event types recorded in the audit trail.
const (
	EventTaskCreated       = "task_created"
	EventTaskStatusChange  = "task_status_change"
	EventTaskProgress      = "task_progress"
	EventAgentRegistered   = "agent_registered"
	EventAgentStatusChange = "agent_status_change"
	EventAgentClosed       = "agent_closed"
	EventProfileEdited     = "profile_edited"
	EventMentionsClaimed   = "mentions_claimed"
	EventInboxClaimed      = "inbox_claimed"
	EventScheduleFired     = "schedule_fired"
	EventScheduleDisabled  = "schedule_disabled"
	EventEpicCreated       = "epic_created"
	EventEpicStatusChange  = "epic_status_change"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        string            `json:"id"`
	EventType string            `json:"eventType"`
	AgentID   string            `json:"agentId,omitempty"`
	TaskID    string            `json:"taskId,omitempty"`
	OldValue  string            `json:"oldValue,omitempty"`
	NewValue  string            `json:"newValue,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Insert appends an entry using the given executor, which may be a
// transaction or a plain connection. Returns any write error.
func Insert(ctx context.Context, q sqlx.ExtContext, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO agent_logs (id, event_type, agent_id, task_id, old_value, new_value, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), e.ID, e.EventType, nullStr(e.AgentID), nullStr(e.TaskID), nullStr(e.OldValue), nullStr(e.NewValue), string(metadata), e.CreatedAt)
	return err
}

// Append records an entry best-effort: write errors are logged and
// discarded so the surrounding transaction commits regardless.
func Append(ctx context.Context, q sqlx.ExtContext, e *Entry) {
	if err := Insert(ctx, q, e); err != nil {
		logger.Default().WithError(err).Warn("audit log append failed")
	}
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
