// Package models defines the scheduled task types.
package models

import "time"

// ScheduledTask fires a task template on a cron expression or fixed
// interval. A schedule with both set follows the cron expression.
type ScheduledTask struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	Description    string `json:"description,omitempty" db:"description"`
	TaskTemplate   string `json:"taskTemplate" db:"task_template"`
	CronExpression string `json:"cronExpression,omitempty" db:"cron_expression"`
	Timezone       string `json:"timezone,omitempty" db:"timezone"`
	IntervalMs     int64  `json:"intervalMs,omitempty" db:"interval_ms"`

	TargetAgentID string   `json:"targetAgentId,omitempty" db:"target_agent_id"`
	Priority      int      `json:"priority" db:"priority"`
	Tags          []string `json:"tags" db:"-"`

	Enabled   bool       `json:"enabled" db:"enabled"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty" db:"next_run_at"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`

	ConsecutiveErrors int        `json:"consecutiveErrors" db:"consecutive_errors"`
	LastErrorAt       *time.Time `json:"lastErrorAt,omitempty" db:"last_error_at"`
	LastErrorMessage  string     `json:"lastErrorMessage,omitempty" db:"last_error_message"`

	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt" db:"last_updated_at"`
}

// RunTags merges the schedule's user tags with the marker tags every fired
// task carries. Manual runs add manual-run on top.
func (s *ScheduledTask) RunTags(manual bool) []string {
	tags := make([]string, 0, len(s.Tags)+3)
	tags = append(tags, s.Tags...)
	tags = append(tags, "scheduled", "schedule:"+s.Name)
	if manual {
		tags = append(tags, "manual-run")
	}
	return tags
}

// ListFilter narrows schedule listings.
type ListFilter struct {
	Enabled *bool
	Name    string
}
