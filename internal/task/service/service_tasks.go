package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/task/models"
)

// CreateTask creates a task with its initial status derived from the
// request: offered when directed at an agent, pending when assigned,
// backlog when explicitly deferred, otherwise unassigned. When agentId is
// omitted but parentTaskId is set, the task is routed to the parent's agent.
func (s *Service) CreateTask(ctx context.Context, req *CreateTaskRequest) (*models.Task, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	agentID := req.AgentID
	if agentID == "" && req.OfferedTo == "" && req.ParentTaskID != "" {
		parent, err := s.repo.GetTask(ctx, req.ParentTaskID)
		if err != nil {
			return nil, err
		}
		agentID = parent.AgentID
	}

	task := &models.Task{
		AgentID:           agentID,
		CreatorAgentID:    req.CreatorAgentID,
		Description:       req.Task,
		Source:            req.Source,
		TaskType:          req.TaskType,
		Tags:              req.Tags,
		Priority:          req.Priority,
		DependsOn:         req.DependsOn,
		OfferedTo:         req.OfferedTo,
		EpicID:            req.EpicID,
		ParentTaskID:      req.ParentTaskID,
		SlackChannel:      req.SlackChannel,
		SlackTs:           req.SlackTs,
		GithubRepo:        req.GithubRepo,
		GithubIssueNumber: req.GithubIssueNumber,
		AgentmailThreadID: req.AgentmailThreadID,
		MentionMessageID:  req.MentionMessageID,
		MentionChannelID:  req.MentionChannelID,
	}

	switch {
	case req.OfferedTo != "":
		task.Status = models.StatusOffered
	case agentID != "":
		task.Status = models.StatusPending
	case req.Backlog:
		task.Status = models.StatusBacklog
	default:
		task.Status = models.StatusUnassigned
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		s.logger.Error("failed to create task", zap.Error(err))
		return nil, err
	}

	s.publishTaskEvent(ctx, events.TaskCreated, task, "")
	if task.Status == models.StatusOffered {
		s.publishTaskEvent(ctx, events.TaskOffered, task, "")
	}
	s.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status)),
		zap.String("source", string(task.Source)))

	return task, nil
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.repo.GetTask(ctx, id)
}

// ListTasks returns tasks matching the filter plus the unpaginated total.
func (s *Service) ListTasks(ctx context.Context, filter models.ListFilter) ([]*models.Task, int, error) {
	return s.repo.ListTasks(ctx, filter)
}

// ClaimTask moves an unassigned task to pending for the agent. Returns nil
// when another claimant won the race.
func (s *Service) ClaimTask(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	task, err := s.repo.ClaimTask(ctx, taskID, agentID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, models.StatusUnassigned)
	s.logger.Info("task claimed", zap.String("task_id", taskID), zap.String("agent_id", agentID))
	return task, nil
}

// OfferTask directs an unassigned task at a specific agent for review.
func (s *Service) OfferTask(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	task, err := s.repo.OfferTask(ctx, taskID, agentID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskOffered, task, models.StatusUnassigned)
	s.logger.Info("task offered", zap.String("task_id", taskID), zap.String("agent_id", agentID))
	return task, nil
}

// ClaimOffered pulls an offer into reviewing for the offered agent.
func (s *Service) ClaimOffered(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	task, err := s.repo.ClaimOffered(ctx, taskID, agentID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, models.StatusOffered)
	return task, nil
}

// AcceptTask converts an offer into an assignment.
func (s *Service) AcceptTask(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	task, err := s.repo.AcceptTask(ctx, taskID, agentID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, "")
	s.logger.Info("task accepted", zap.String("task_id", taskID), zap.String("agent_id", agentID))
	return task, nil
}

// RejectTask returns an offer to the pool with a reason.
func (s *Service) RejectTask(ctx context.Context, taskID, agentID, reason string) (*models.Task, error) {
	task, err := s.repo.RejectTask(ctx, taskID, agentID, reason)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, "")
	s.logger.Info("task rejected",
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID),
		zap.String("reason", reason))
	return task, nil
}

// StartTask begins execution of a pending task.
func (s *Service) StartTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.StartTask(ctx, taskID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, models.StatusPending)
	s.logger.Info("task started", zap.String("task_id", taskID))
	return task, nil
}

// PauseTask suspends an in_progress task.
func (s *Service) PauseTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.PauseTask(ctx, taskID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, models.StatusInProgress)
	s.logger.Info("task paused", zap.String("task_id", taskID))
	return task, nil
}

// ResumeTask returns a paused task to in_progress.
func (s *Service) ResumeTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.ResumeTask(ctx, taskID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, models.StatusPaused)
	s.logger.Info("task resumed", zap.String("task_id", taskID))
	return task, nil
}

// CompleteTask finishes a task successfully.
func (s *Service) CompleteTask(ctx context.Context, taskID, output string) (*models.Task, error) {
	task, err := s.repo.CompleteTask(ctx, taskID, output)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, "")
	s.logger.Info("task completed", zap.String("task_id", taskID))
	return task, nil
}

// FailTask finishes a task unsuccessfully.
func (s *Service) FailTask(ctx context.Context, taskID, reason string) (*models.Task, error) {
	task, err := s.repo.FailTask(ctx, taskID, reason)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, "")
	s.logger.Info("task failed", zap.String("task_id", taskID), zap.String("reason", reason))
	return task, nil
}

// CancelTask cancels a pending or in_progress task. The owning agent learns
// of the cancellation through its next poll.
func (s *Service) CancelTask(ctx context.Context, taskID, reason string) (*models.Task, error) {
	task, err := s.repo.CancelTask(ctx, taskID, reason)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, "")
	s.logger.Info("task cancelled", zap.String("task_id", taskID), zap.String("reason", reason))
	return task, nil
}

// SetProgress records a progress note, coercing pending work to in_progress.
func (s *Service) SetProgress(ctx context.Context, taskID, progress string) (*models.Task, error) {
	task, err := s.repo.SetProgress(ctx, taskID, progress)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskProgress, task, "")
	return task, nil
}

// MoveToPool promotes a backlog task into the claimable pool.
func (s *Service) MoveToPool(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.MoveToPool(ctx, taskID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, models.StatusBacklog)
	return task, nil
}

// MoveToBacklog defers an unassigned task out of the pool.
func (s *Service) MoveToBacklog(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.MoveToBacklog(ctx, taskID)
	if err != nil || task == nil {
		return task, err
	}
	s.publishTaskEvent(ctx, events.TaskStatusChanged, task, models.StatusUnassigned)
	return task, nil
}

// AttachClaudeSession links an execution session ID to the task.
func (s *Service) AttachClaudeSession(ctx context.Context, taskID, sessionID string) error {
	return s.repo.AttachClaudeSession(ctx, taskID, sessionID)
}

// CheckDependencies reports whether a task is ready to start.
func (s *Service) CheckDependencies(ctx context.Context, taskID string) (*models.DependencyStatus, error) {
	return s.repo.CheckDependencies(ctx, taskID)
}

// GetPendingTaskForAgent returns the agent's best dependency-ready pending
// task, or nil.
func (s *Service) GetPendingTaskForAgent(ctx context.Context, agentID string) (*models.Task, error) {
	return s.repo.GetPendingTaskForAgent(ctx, agentID)
}

// MarkNotified stamps notifiedAt on the given tasks.
func (s *Service) MarkNotified(ctx context.Context, taskIDs []string) error {
	return s.repo.MarkNotified(ctx, taskIDs)
}

// ResetNotified clears notifiedAt so the tasks are re-delivered. Workers
// call this when they failed to act on a trigger they were handed.
func (s *Service) ResetNotified(ctx context.Context, taskIDs []string) error {
	if err := s.repo.ResetNotified(ctx, taskIDs); err != nil {
		return err
	}
	s.logger.Info("notifications reset", zap.Int("count", len(taskIDs)))
	return nil
}
