// Package models defines the epic aggregate types.
package models

import "time"

// EpicStatus is the epic lifecycle state.
type EpicStatus string

const (
	StatusDraft     EpicStatus = "draft"
	StatusActive    EpicStatus = "active"
	StatusPaused    EpicStatus = "paused"
	StatusCompleted EpicStatus = "completed"
	StatusCancelled EpicStatus = "cancelled"
)

// IsValid returns true if the status is a known epic status.
func (s EpicStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true once no further status change is expected.
func (s EpicStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Epic is a named grouping of related tasks with an auto-provisioned channel
// and derived progress.
type Epic struct {
	ID                 string     `json:"id" db:"id"`
	Name               string     `json:"name" db:"name"`
	Goal               string     `json:"goal,omitempty" db:"goal"`
	Status             EpicStatus `json:"status" db:"status"`
	Priority           int        `json:"priority" db:"priority"`
	Tags               []string   `json:"tags" db:"-"`
	LeadAgentID        string     `json:"leadAgentId,omitempty" db:"lead_agent_id"`
	ChannelID          string     `json:"channelId,omitempty" db:"channel_id"`
	ProgressNotifiedAt *time.Time `json:"progressNotifiedAt,omitempty" db:"progress_notified_at"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	LastUpdatedAt      time.Time  `json:"lastUpdatedAt" db:"last_updated_at"`
	StartedAt          *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt        *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

// Progress is the derived task breakdown of an epic. Progress is
// round(100*completed/total), or 0 for an epic with no tasks.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"inProgress"`
	Pending    int `json:"pending"`
	Unassigned int `json:"unassigned"`
	Progress   int `json:"progress"`
}

// EpicWithProgress pairs an epic with its derived progress.
type EpicWithProgress struct {
	*Epic
	TaskProgress *Progress `json:"taskProgress"`
}
