package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/task/models"
)

// publishTaskEvent publishes task events to the event bus. oldStatus is
// empty when the transition origin is not statically known.
func (s *Service) publishTaskEvent(ctx context.Context, eventType string, task *models.Task, oldStatus models.TaskStatus) {
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
	if task.OfferedTo != "" {
		data["offered_to"] = task.OfferedTo
	}
	if task.EpicID != "" {
		data["epic_id"] = task.EpicID
	}
	if task.Progress != "" {
		data["progress"] = task.Progress
	}
	if oldStatus != "" {
		data["old_status"] = string(oldStatus)
		data["new_status"] = string(task.Status)
	}

	event := bus.NewEvent(eventType, "task-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish task event",
			zap.String("event_type", eventType),
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}
