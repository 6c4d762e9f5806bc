// Package repository defines the schedule storage interface.
package repository

import (
	"context"
	"time"

	"github.com/agentswarm/agentswarm/internal/schedule/models"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
)

// Repository defines the interface for schedule persistence.
type Repository interface {
	CreateSchedule(ctx context.Context, s *models.ScheduledTask) error
	GetSchedule(ctx context.Context, id string) (*models.ScheduledTask, error)
	GetScheduleByName(ctx context.Context, name string) (*models.ScheduledTask, error)
	ListSchedules(ctx context.Context, filter models.ListFilter) ([]*models.ScheduledTask, error)
	UpdateSchedule(ctx context.Context, s *models.ScheduledTask) error
	DeleteSchedule(ctx context.Context, id string) error

	DueSchedules(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error)
	RecordRunSuccess(ctx context.Context, id string, task *taskmodels.Task, ranAt time.Time, nextRunAt *time.Time) error
	RecordRunFailure(ctx context.Context, id string, failedAt time.Time, message string, nextRunAt time.Time, errorCount int, disable bool) error
	TouchLastRun(ctx context.Context, id string, task *taskmodels.Task, ranAt time.Time) error
}
