// Package service implements the epic aggregate: creation with an
// auto-provisioned channel, lifecycle transitions, and derived progress.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/common/stringutil"
	"github.com/agentswarm/agentswarm/internal/epic/models"
	"github.com/agentswarm/agentswarm/internal/epic/repository"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	messagingmodels "github.com/agentswarm/agentswarm/internal/messaging/models"
	messagingservice "github.com/agentswarm/agentswarm/internal/messaging/service"
)

var ErrEmptyName = errors.New("epic name is required")

// ChannelProvisioner creates the channel an epic owns.
type ChannelProvisioner interface {
	CreateChannel(ctx context.Context, req *messagingservice.CreateChannelRequest) (*messagingmodels.Channel, error)
}

// CreateEpicRequest carries the options for epic creation.
type CreateEpicRequest struct {
	Name        string
	Goal        string
	Status      models.EpicStatus
	Priority    int
	Tags        []string
	LeadAgentID string
}

// Service provides epic business logic.
type Service struct {
	repo     repository.Repository
	channels ChannelProvisioner
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a new epic service.
func NewService(repo repository.Repository, channels ChannelProvisioner, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		channels: channels,
		eventBus: eventBus,
		logger:   log.WithComponent("epic-service"),
	}
}

// CreateEpic creates an epic and auto-provisions its channel, named
// epic-<slug>. The epic is still created when channel provisioning fails;
// the failure is logged and the channel binding stays empty.
func (s *Service) CreateEpic(ctx context.Context, req *CreateEpicRequest) (*models.Epic, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if req.Status != "" && !req.Status.IsValid() {
		return nil, fmt.Errorf("unknown epic status: %s", req.Status)
	}

	epic := &models.Epic{
		Name:        name,
		Goal:        req.Goal,
		Status:      req.Status,
		Priority:    req.Priority,
		Tags:        req.Tags,
		LeadAgentID: req.LeadAgentID,
	}

	if s.channels != nil {
		channel, err := s.channels.CreateChannel(ctx, &messagingservice.CreateChannelRequest{
			Name:        "epic-" + stringutil.Slugify(name),
			Description: "Channel for epic " + name,
			CreatedBy:   req.LeadAgentID,
		})
		if err != nil {
			s.logger.Warn("failed to provision epic channel",
				zap.String("epic_name", name),
				zap.Error(err))
		} else {
			epic.ChannelID = channel.ID
		}
	}

	if err := s.repo.CreateEpic(ctx, epic); err != nil {
		s.logger.Error("failed to create epic", zap.Error(err))
		return nil, err
	}

	s.publishEpicEvent(ctx, events.EpicCreated, epic, nil)
	s.logger.Info("epic created",
		zap.String("epic_id", epic.ID),
		zap.String("name", epic.Name),
		zap.String("channel_id", epic.ChannelID))
	return epic, nil
}

// GetEpic retrieves an epic by ID.
func (s *Service) GetEpic(ctx context.Context, id string) (*models.Epic, error) {
	return s.repo.GetEpic(ctx, id)
}

// GetEpicWithProgress retrieves an epic together with its derived task
// breakdown.
func (s *Service) GetEpicWithProgress(ctx context.Context, id string) (*models.EpicWithProgress, error) {
	epic, err := s.repo.GetEpic(ctx, id)
	if err != nil {
		return nil, err
	}
	progress, err := s.repo.GetProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.EpicWithProgress{Epic: epic, TaskProgress: progress}, nil
}

// ListEpics returns epics, optionally filtered by status.
func (s *Service) ListEpics(ctx context.Context, status models.EpicStatus) ([]*models.Epic, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("unknown epic status: %s", status)
	}
	return s.repo.ListEpics(ctx, status)
}

// SetStatus transitions an epic through its lifecycle.
func (s *Service) SetStatus(ctx context.Context, id string, status models.EpicStatus) (*models.Epic, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown epic status: %s", status)
	}
	epic, err := s.repo.UpdateEpicStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.publishEpicEvent(ctx, events.EpicStatusChanged, epic, nil)
	s.logger.Info("epic status changed",
		zap.String("epic_id", id),
		zap.String("status", string(status)))
	return epic, nil
}

// GetEpicsWithProgressUpdates returns active epics whose child tasks
// finished after the last progress notification.
func (s *Service) GetEpicsWithProgressUpdates(ctx context.Context) ([]*models.Epic, error) {
	return s.repo.GetEpicsWithProgressUpdates(ctx)
}

// MarkEpicsProgressNotified stamps the given epics after trigger delivery.
func (s *Service) MarkEpicsProgressNotified(ctx context.Context, epicIDs []string) error {
	return s.repo.MarkEpicsProgressNotified(ctx, epicIDs)
}

func (s *Service) publishEpicEvent(ctx context.Context, eventType string, epic *models.Epic, progress *models.Progress) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"epic_id":   epic.ID,
		"epic_name": epic.Name,
		"status":    string(epic.Status),
	}
	if epic.ChannelID != "" {
		data["channel_id"] = epic.ChannelID
	}
	if progress != nil {
		data["progress"] = progress.Progress
		data["completed"] = progress.Completed
		data["total"] = progress.Total
	}
	event := bus.NewEvent(eventType, "epic-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish epic event",
			zap.String("event_type", eventType),
			zap.String("epic_id", epic.ID),
			zap.Error(err))
	}
}
