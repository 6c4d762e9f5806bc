// Package dto defines request and response payloads for the schedule API.
package dto

import "github.com/agentswarm/agentswarm/internal/schedule/models"

// CreateScheduleRequest is the payload for creating a schedule.
type CreateScheduleRequest struct {
	Name           string   `json:"name" binding:"required"`
	Description    string   `json:"description"`
	TaskTemplate   string   `json:"task" binding:"required"`
	CronExpression string   `json:"cronExpression"`
	Timezone       string   `json:"timezone"`
	IntervalMs     int64    `json:"intervalMs"`
	TargetAgentID  string   `json:"targetAgentId"`
	Priority       int      `json:"priority"`
	Tags           []string `json:"tags"`
	Enabled        *bool    `json:"enabled"`
}

// UpdateScheduleRequest is the payload for a partial schedule update.
type UpdateScheduleRequest struct {
	Description    *string  `json:"description"`
	TaskTemplate   *string  `json:"task"`
	CronExpression *string  `json:"cronExpression"`
	Timezone       *string  `json:"timezone"`
	IntervalMs     *int64   `json:"intervalMs"`
	TargetAgentID  *string  `json:"targetAgentId"`
	Priority       *int     `json:"priority"`
	Tags           []string `json:"tags"`
	Enabled        *bool    `json:"enabled"`
}

// SchedulesResponse wraps a schedule list.
type SchedulesResponse struct {
	Schedules []*models.ScheduledTask `json:"schedules"`
}
