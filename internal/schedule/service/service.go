// Package service implements the scheduler: recurring task templates fired
// from cron expressions or fixed intervals, with exponential backoff and
// auto-disable on repeated failure.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/schedule/models"
	"github.com/agentswarm/agentswarm/internal/schedule/repository"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
)

var (
	ErrEmptyName         = errors.New("schedule name is required")
	ErrEmptyTemplate     = errors.New("task template is required")
	ErrNoTiming          = errors.New("a cron expression or intervalMs is required")
	ErrConflictingTiming = errors.New("cron expression and intervalMs are mutually exclusive")
	ErrScheduleDisabled  = errors.New("schedule is disabled")
)

// CreateScheduleRequest carries the options for schedule creation.
type CreateScheduleRequest struct {
	Name           string
	Description    string
	TaskTemplate   string
	CronExpression string
	Timezone       string
	IntervalMs     int64
	TargetAgentID  string
	Priority       int
	Tags           []string
	Enabled        *bool
}

// UpdateScheduleRequest carries a partial schedule update; nil leaves a
// field unchanged.
type UpdateScheduleRequest struct {
	Description    *string
	TaskTemplate   *string
	CronExpression *string
	Timezone       *string
	IntervalMs     *int64
	TargetAgentID  *string
	Priority       *int
	Tags           []string
	Enabled        *bool
}

// Service provides schedule business logic and runs the tick loop.
type Service struct {
	repo     repository.Repository
	eventBus bus.EventBus
	logger   *logger.Logger

	tickInterval time.Duration
	inFlight     atomic.Bool
}

// NewService creates a new schedule service. tickInterval <= 0 uses the
// default.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger, tickInterval time.Duration) *Service {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}
	return &Service{
		repo:         repo,
		eventBus:     eventBus,
		logger:       log.WithComponent("scheduler"),
		tickInterval: tickInterval,
	}
}

// CreateSchedule validates and stores a new schedule with its first
// nextRunAt computed from now.
func (s *Service) CreateSchedule(ctx context.Context, req *CreateScheduleRequest) (*models.ScheduledTask, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(req.TaskTemplate) == "" {
		return nil, ErrEmptyTemplate
	}
	if req.CronExpression != "" && req.IntervalMs > 0 {
		return nil, ErrConflictingTiming
	}

	sched := &models.ScheduledTask{
		Name:           name,
		Description:    req.Description,
		TaskTemplate:   req.TaskTemplate,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		IntervalMs:     req.IntervalMs,
		TargetAgentID:  req.TargetAgentID,
		Priority:       req.Priority,
		Tags:           req.Tags,
		Enabled:        true,
	}
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}

	next, err := nextRun(sched, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = &next

	if err := s.repo.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.publishScheduleEvent(ctx, events.ScheduleCreated, sched, "")
	s.logger.Info("schedule created",
		zap.String("schedule_id", sched.ID),
		zap.String("name", sched.Name),
		zap.Time("next_run_at", next))
	return sched, nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Service) GetSchedule(ctx context.Context, id string) (*models.ScheduledTask, error) {
	return s.repo.GetSchedule(ctx, id)
}

// ListSchedules returns schedules matching the filter.
func (s *Service) ListSchedules(ctx context.Context, filter models.ListFilter) ([]*models.ScheduledTask, error) {
	return s.repo.ListSchedules(ctx, filter)
}

// UpdateSchedule applies a partial update. Changing the timing fields or
// re-enabling recomputes nextRunAt from now; re-enabling also clears the
// error streak so the schedule does not immediately disable itself again.
func (s *Service) UpdateSchedule(ctx context.Context, id string, req *UpdateScheduleRequest) (*models.ScheduledTask, error) {
	sched, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	timingChanged := false
	if req.Description != nil {
		sched.Description = *req.Description
	}
	if req.TaskTemplate != nil {
		if strings.TrimSpace(*req.TaskTemplate) == "" {
			return nil, ErrEmptyTemplate
		}
		sched.TaskTemplate = *req.TaskTemplate
	}
	if req.CronExpression != nil {
		sched.CronExpression = *req.CronExpression
		timingChanged = true
	}
	if req.Timezone != nil {
		sched.Timezone = *req.Timezone
		timingChanged = true
	}
	if req.IntervalMs != nil {
		sched.IntervalMs = *req.IntervalMs
		timingChanged = true
	}
	if req.TargetAgentID != nil {
		sched.TargetAgentID = *req.TargetAgentID
	}
	if req.Priority != nil {
		sched.Priority = *req.Priority
	}
	if req.Tags != nil {
		sched.Tags = req.Tags
	}
	if req.Enabled != nil {
		if *req.Enabled && !sched.Enabled {
			sched.ConsecutiveErrors = 0
			sched.LastErrorAt = nil
			sched.LastErrorMessage = ""
			timingChanged = true
		}
		sched.Enabled = *req.Enabled
	}

	if sched.CronExpression != "" && sched.IntervalMs > 0 {
		return nil, ErrConflictingTiming
	}
	if timingChanged {
		next, err := nextRun(sched, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		sched.NextRunAt = &next
	}

	if err := s.repo.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.publishScheduleEvent(ctx, events.ScheduleUpdated, sched, "")
	return sched, nil
}

// DeleteSchedule removes a schedule.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	return s.repo.DeleteSchedule(ctx, id)
}

// RunNow fires a schedule immediately. The task and lastRunAt land in one
// write; nextRunAt is left for the regular cadence. Fails when the
// schedule is missing or disabled.
func (s *Service) RunNow(ctx context.Context, id string) (*taskmodels.Task, error) {
	sched, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sched.Enabled {
		return nil, ErrScheduleDisabled
	}

	now := time.Now().UTC()
	task := runTask(sched, true)
	if err := s.repo.TouchLastRun(ctx, sched.ID, task, now); err != nil {
		return nil, err
	}

	s.publishTaskCreated(ctx, task)
	s.publishScheduleEvent(ctx, events.ScheduleFired, sched, task.ID)
	s.logger.Info("schedule fired manually",
		zap.String("schedule_id", sched.ID),
		zap.String("task_id", task.ID))
	return task, nil
}

// runTask builds the task a firing schedule produces. Targeted schedules
// dispatch straight to the agent; the rest land in the shared pool.
func runTask(sched *models.ScheduledTask, manual bool) *taskmodels.Task {
	task := &taskmodels.Task{
		AgentID:     sched.TargetAgentID,
		Description: sched.TaskTemplate,
		Source:      taskmodels.SourceScheduler,
		Tags:        sched.RunTags(manual),
		Priority:    sched.Priority,
		Status:      taskmodels.StatusUnassigned,
	}
	if sched.TargetAgentID != "" {
		task.Status = taskmodels.StatusPending
	}
	return task
}

// nextRun computes the next firing time after from. Cron takes precedence
// should a stored row carry both timings.
func nextRun(sched *models.ScheduledTask, from time.Time) (time.Time, error) {
	if sched.CronExpression != "" {
		loc := time.UTC
		if sched.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(sched.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid timezone %q: %v", sched.Timezone, err)
			}
		}
		parsed, err := cron.ParseStandard(sched.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %v", sched.CronExpression, err)
		}
		return parsed.Next(from.In(loc)).UTC(), nil
	}
	if sched.IntervalMs > 0 {
		return from.Add(time.Duration(sched.IntervalMs) * time.Millisecond), nil
	}
	return time.Time{}, ErrNoTiming
}

// backoffDelay doubles the base delay per consecutive error, capped.
func backoffDelay(errorCount int) time.Duration {
	delay := constants.SchedulerBackoffBase
	for i := 0; i < errorCount && delay < constants.SchedulerBackoffCap; i++ {
		delay *= 2
	}
	if delay > constants.SchedulerBackoffCap {
		delay = constants.SchedulerBackoffCap
	}
	return delay
}

// publishTaskCreated mirrors the task-service creation event for tasks the
// scheduler writes directly.
func (s *Service) publishTaskCreated(ctx context.Context, task *taskmodels.Task) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"task_id":    task.ID,
		"task":       task.Description,
		"status":     string(task.Status),
		"source":     string(task.Source),
		"priority":   task.Priority,
		"created_at": task.CreatedAt.Format(time.RFC3339),
	}
	if task.AgentID != "" {
		data["agent_id"] = task.AgentID
	}
	event := bus.NewEvent(events.TaskCreated, "scheduler", data)
	if err := s.eventBus.Publish(ctx, events.TaskCreated, event); err != nil {
		s.logger.Error("failed to publish task event",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

func (s *Service) publishScheduleEvent(ctx context.Context, eventType string, sched *models.ScheduledTask, taskID string) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"schedule_id":   sched.ID,
		"schedule_name": sched.Name,
		"enabled":       sched.Enabled,
	}
	if taskID != "" {
		data["task_id"] = taskID
	}
	event := bus.NewEvent(eventType, "scheduler", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish schedule event",
			zap.String("event_type", eventType),
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
	}
}
