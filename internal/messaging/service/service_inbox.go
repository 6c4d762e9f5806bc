package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/messaging/models"
)

// InboxRequest carries a direct message for an agent's inbox.
type InboxRequest struct {
	AgentID          string
	Source           string
	SenderName       string
	ExternalThreadID string
	Content          string
}

// CreateInboxMessage stores a direct message for the agent. The content is
// kept verbatim; structured blocks inside it stay parseable by the worker.
func (s *Service) CreateInboxMessage(ctx context.Context, req *InboxRequest) (*models.InboxMessage, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.agents.GetAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}

	msg := &models.InboxMessage{
		AgentID:          req.AgentID,
		Source:           req.Source,
		SenderName:       req.SenderName,
		ExternalThreadID: req.ExternalThreadID,
		Content:          req.Content,
	}
	if err := s.repo.CreateInboxMessage(ctx, msg); err != nil {
		s.logger.Error("failed to create inbox message", zap.Error(err))
		return nil, err
	}

	s.publishInboxEvent(ctx, events.InboxReceived, msg)
	return msg, nil
}

// GetInboxMessage retrieves an inbox message by ID.
func (s *Service) GetInboxMessage(ctx context.Context, id string) (*models.InboxMessage, error) {
	return s.repo.GetInboxMessage(ctx, id)
}

// ListInboxMessages returns the agent's inbox, optionally filtered by status.
func (s *Service) ListInboxMessages(ctx context.Context, agentID string, status models.InboxStatus) ([]*models.InboxMessage, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("unknown inbox status: %s", status)
	}
	return s.repo.ListInboxMessages(ctx, agentID, status)
}

// CountUnreadInbox returns the agent's unread inbox count.
func (s *Service) CountUnreadInbox(ctx context.Context, agentID string) (int, error) {
	return s.repo.CountUnreadInbox(ctx, agentID)
}

// ClaimInboxMessages atomically moves up to limit unread messages to
// processing. A non-positive limit uses the default; the default is also the
// upper bound.
func (s *Service) ClaimInboxMessages(ctx context.Context, agentID string, limit int) ([]*models.InboxMessage, error) {
	if limit <= 0 || limit > constants.InboxClaimLimit {
		limit = constants.InboxClaimLimit
	}
	claimed, err := s.repo.ClaimInboxMessages(ctx, agentID, limit)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		s.logger.Info("inbox messages claimed",
			zap.String("agent_id", agentID),
			zap.Int("count", len(claimed)))
	}
	return claimed, nil
}

// SetInboxStatus transitions an inbox message through its state machine.
// The outcome payload travels with its terminal state only.
func (s *Service) SetInboxStatus(ctx context.Context, id string, status models.InboxStatus, outcome models.InboxOutcome) (*models.InboxMessage, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown inbox status: %s", status)
	}
	msg, err := s.repo.SetInboxStatus(ctx, id, status, outcome)
	if err != nil {
		return nil, err
	}
	s.publishInboxEvent(ctx, events.InboxStatusSet, msg)
	return msg, nil
}

// ReleaseStaleClaims is the periodic sweep shared by both claim protocols:
// mention locks and inbox processing older than the timeout are released so
// abandoned work becomes claimable again.
func (s *Service) ReleaseStaleClaims(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-constants.StaleProcessingTimeout)

	channels, err := s.repo.ReleaseStaleMentionProcessing(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale mention sweep failed", zap.Error(err))
	} else if channels > 0 {
		s.logger.Info("released stale mention claims", zap.Int64("channels", channels))
	}

	messages, err := s.repo.ReleaseStaleInboxProcessing(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale inbox sweep failed", zap.Error(err))
	} else if messages > 0 {
		s.logger.Info("released stale inbox claims", zap.Int64("messages", messages))
	}
}

// StartSweeper runs the stale claim sweep periodically until ctx is
// cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
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
				s.ReleaseStaleClaims(ctx)
			}
		}
	}()
}

func (s *Service) publishInboxEvent(ctx context.Context, eventType string, msg *models.InboxMessage) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "messaging-service", map[string]interface{}{
		"message_id": msg.ID,
		"agent_id":   msg.AgentID,
		"source":     msg.Source,
		"status":     string(msg.Status),
	})
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish inbox event",
			zap.String("event_type", eventType),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}
