// Package service implements active-session tracking plus the cost/log
// ingestion the workers report after each iteration.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/session/models"
	"github.com/agentswarm/agentswarm/internal/session/repository"
)

var (
	ErrEmptyAgentID = errors.New("agentId is required")
	ErrNoSessionRef = errors.New("sessionId or taskId is required")
	ErrEmptyContent = errors.New("content is required")
)

// StartSessionRequest carries the options for registering a running session.
type StartSessionRequest struct {
	AgentID         string
	TaskID          string
	TriggerType     string
	InboxMessageID  string
	TaskDescription string
}

// Service provides session tracking and cost bookkeeping.
type Service struct {
	repo     repository.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a new session service.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithComponent("session-service"),
	}
}

// Start registers a running session for an agent.
func (s *Service) Start(ctx context.Context, req *StartSessionRequest) (*models.ActiveSession, error) {
	if req.AgentID == "" {
		return nil, ErrEmptyAgentID
	}
	session := &models.ActiveSession{
		AgentID:         req.AgentID,
		TaskID:          req.TaskID,
		TriggerType:     req.TriggerType,
		InboxMessageID:  req.InboxMessageID,
		TaskDescription: req.TaskDescription,
	}
	if err := s.repo.StartSession(ctx, session); err != nil {
		return nil, err
	}
	s.publishSessionEvent(ctx, events.SessionStarted, session)
	return session, nil
}

// Heartbeat bumps the heartbeat on the session running the task.
func (s *Service) Heartbeat(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrNoSessionRef
	}
	return s.repo.HeartbeatByTask(ctx, taskID)
}

// End removes a session by its id or by the task it runs.
func (s *Service) End(ctx context.Context, sessionID, taskID string) error {
	var err error
	switch {
	case sessionID != "":
		err = s.repo.EndSession(ctx, sessionID)
	case taskID != "":
		err = s.repo.EndSessionByTask(ctx, taskID)
	default:
		return ErrNoSessionRef
	}
	if err != nil {
		return err
	}
	s.publishSessionEvent(ctx, events.SessionEnded, &models.ActiveSession{
		ID:     sessionID,
		TaskID: taskID,
	})
	return nil
}

// List returns running sessions, optionally for one agent.
func (s *Service) List(ctx context.Context, agentID string) ([]*models.ActiveSession, error) {
	return s.repo.ListSessions(ctx, agentID)
}

// CleanupStale removes sessions whose heartbeat went silent for longer than
// the stale timeout.
func (s *Service) CleanupStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-constants.StaleSessionTimeout)
	removed, err := s.repo.CleanupStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("cleaned up stale sessions", zap.Int64("removed", removed))
	}
	return removed, nil
}

// StartCleanupLoop sweeps stale sessions periodically until ctx is
// cancelled.
func (s *Service) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CleanupStale(ctx); err != nil {
					s.logger.Error("session cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// RecordCost stores one reported usage record.
func (s *Service) RecordCost(ctx context.Context, cost *models.SessionCost) (*models.SessionCost, error) {
	if cost.AgentID == "" {
		return nil, ErrEmptyAgentID
	}
	if err := s.repo.CreateSessionCost(ctx, cost); err != nil {
		return nil, err
	}
	return cost, nil
}

// ListCosts returns cost records matching the filter.
func (s *Service) ListCosts(ctx context.Context, filter models.CostFilter) ([]*models.SessionCost, error) {
	return s.repo.ListSessionCosts(ctx, filter)
}

// CostSummary aggregates all recorded costs.
func (s *Service) CostSummary(ctx context.Context) (*models.CostSummary, error) {
	return s.repo.CostSummary(ctx)
}

// CostDashboard returns the summary plus per-agent usage.
func (s *Service) CostDashboard(ctx context.Context) (*models.CostDashboard, error) {
	return s.repo.CostDashboard(ctx)
}

// AppendLog stores one worker output line.
func (s *Service) AppendLog(ctx context.Context, log *models.SessionLog) (*models.SessionLog, error) {
	if log.AgentID == "" {
		return nil, ErrEmptyAgentID
	}
	if log.Content == "" {
		return nil, ErrEmptyContent
	}
	if err := s.repo.CreateSessionLog(ctx, log); err != nil {
		return nil, err
	}
	return log, nil
}

// ListLogs returns log lines for a task or session.
func (s *Service) ListLogs(ctx context.Context, taskID, sessionID string) ([]*models.SessionLog, error) {
	if taskID == "" && sessionID == "" {
		return nil, ErrNoSessionRef
	}
	return s.repo.ListSessionLogs(ctx, taskID, sessionID)
}

// Stats returns the kernel-wide read model.
func (s *Service) Stats(ctx context.Context) (*models.SwarmStats, error) {
	return s.repo.SwarmStats(ctx)
}

func (s *Service) publishSessionEvent(ctx context.Context, eventType string, session *models.ActiveSession) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"session_id": session.ID,
		"agent_id":   session.AgentID,
	}
	if session.TaskID != "" {
		data["task_id"] = session.TaskID
	}
	event := bus.NewEvent(eventType, "session-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish session event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
