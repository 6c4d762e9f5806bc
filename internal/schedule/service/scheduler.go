package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/stringutil"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/schedule/models"
)

// Start runs the tick loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("tick_interval", s.tickInterval))
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due schedule once. Overlapping ticks are skipped so a
// slow run never stacks duplicates behind itself.
func (s *Service) Tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("scheduler tick skipped, previous tick still running")
		return
	}
	defer s.inFlight.Store(false)

	now := time.Now().UTC()
	due, err := s.repo.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("failed to load due schedules", zap.Error(err))
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched)
	}
}

// fire creates the task for one due schedule and records the outcome. The
// task insert and the run bookkeeping share one transaction, so a crash
// mid-fire never leaves the schedule due with the task already written.
func (s *Service) fire(ctx context.Context, sched *models.ScheduledTask) {
	now := time.Now().UTC()

	next, err := nextRun(sched, now)
	if err != nil {
		s.recordFailure(ctx, sched, now, err)
		return
	}

	task := runTask(sched, false)
	if err := s.repo.RecordRunSuccess(ctx, sched.ID, task, now, &next); err != nil {
		s.recordFailure(ctx, sched, now, err)
		return
	}

	s.publishTaskCreated(ctx, task)
	s.publishScheduleEvent(ctx, events.ScheduleFired, sched, task.ID)
	s.logger.Info("schedule fired",
		zap.String("schedule_id", sched.ID),
		zap.String("name", sched.Name),
		zap.String("task_id", task.ID),
		zap.Time("next_run_at", next))
}

// recordFailure books one failed run: bump the error streak, push nextRunAt
// out by the backoff delay, and disable the schedule once the streak hits
// the limit.
func (s *Service) recordFailure(ctx context.Context, sched *models.ScheduledTask, now time.Time, cause error) {
	errorCount := sched.ConsecutiveErrors + 1
	disable := errorCount >= constants.SchedulerMaxConsecutiveErrors
	next := now.Add(backoffDelay(errorCount))
	message := stringutil.TruncateString(cause.Error(), constants.SchedulerErrorMessageLimit)

	if err := s.repo.RecordRunFailure(ctx, sched.ID, now, message, next, errorCount, disable); err != nil {
		s.logger.Error("failed to record schedule failure",
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
		return
	}

	s.logger.Warn("schedule run failed",
		zap.String("schedule_id", sched.ID),
		zap.String("name", sched.Name),
		zap.Int("consecutive_errors", errorCount),
		zap.Time("next_run_at", next),
		zap.Error(cause))

	if disable {
		sched.Enabled = false
		s.publishScheduleEvent(ctx, events.ScheduleDisabled, sched, "")
		s.logger.Warn("schedule disabled after repeated failures",
			zap.String("schedule_id", sched.ID),
			zap.String("name", sched.Name),
			zap.Int("consecutive_errors", errorCount))
	}
}
