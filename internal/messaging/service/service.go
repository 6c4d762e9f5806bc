// Package service implements channel and inbox business logic: posting with
// mention resolution, /task synthesis, and the claim protocols the poll
// endpoint builds on.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	agentmodels "github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/messaging/models"
	"github.com/agentswarm/agentswarm/internal/messaging/repository"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	taskservice "github.com/agentswarm/agentswarm/internal/task/service"
)

var (
	ErrEmptyChannelName = errors.New("channel name is required")
	ErrEmptyContent     = errors.New("message content is required")
)

// AgentDirectory resolves mention names and validates inbox recipients.
type AgentDirectory interface {
	GetAgent(ctx context.Context, id string) (*agentmodels.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*agentmodels.Agent, error)
}

// TaskCreator synthesises tasks from /task messages.
type TaskCreator interface {
	CreateTask(ctx context.Context, req *taskservice.CreateTaskRequest) (*taskmodels.Task, error)
}

// CreateChannelRequest carries the options for channel creation.
type CreateChannelRequest struct {
	Name        string
	Description string
	CreatedBy   string
	EpicID      string
}

// PostMessageRequest carries a channel message. Mentions holds explicit
// agent IDs; @name tokens in the content are resolved on top of them.
type PostMessageRequest struct {
	ChannelID string
	AuthorID  string
	Content   string
	Mentions  []string
	ThreadID  string
}

// PostResult is the outcome of posting: the stored message and any tasks
// synthesised from a /task command.
type PostResult struct {
	Message *models.Message    `json:"message"`
	Tasks   []*taskmodels.Task `json:"tasks,omitempty"`
}

// Service provides channel and inbox business logic.
type Service struct {
	repo     repository.Repository
	agents   AgentDirectory
	tasks    TaskCreator
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a new messaging service.
func NewService(repo repository.Repository, agents AgentDirectory, tasks TaskCreator, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		agents:   agents,
		tasks:    tasks,
		eventBus: eventBus,
		logger:   log.WithComponent("messaging-service"),
	}
}

// CreateChannel creates a named channel. Duplicate names fail with the
// underlying uniqueness violation.
func (s *Service) CreateChannel(ctx context.Context, req *CreateChannelRequest) (*models.Channel, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyChannelName
	}

	channel := &models.Channel{
		Name:        name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		EpicID:      req.EpicID,
	}
	if err := s.repo.CreateChannel(ctx, channel); err != nil {
		return nil, err
	}

	s.publishChannelEvent(ctx, events.ChannelCreated, channel.ID, map[string]interface{}{
		"channel_id":   channel.ID,
		"channel_name": channel.Name,
		"created_by":   channel.CreatedBy,
	})
	s.logger.Info("channel created",
		zap.String("channel_id", channel.ID),
		zap.String("name", channel.Name))
	return channel, nil
}

// GetChannel retrieves a channel by ID.
func (s *Service) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	return s.repo.GetChannel(ctx, id)
}

// GetChannelByName retrieves a channel by its unique name.
func (s *Service) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	return s.repo.GetChannelByName(ctx, name)
}

// ListChannels returns all channels.
func (s *Service) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.repo.ListChannels(ctx)
}

// PostMessage stores a channel message and runs mention handling: explicit
// IDs and resolved @names notify and feed /task synthesis; thread replies
// without their own mentions inherit the parent's for notification only.
func (s *Service) PostMessage(ctx context.Context, req *PostMessageRequest) (*PostResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	channel, err := s.repo.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}

	ownMentions := s.resolveMentions(ctx, req.Mentions, req.Content)

	notifyMentions := ownMentions
	if len(notifyMentions) == 0 && req.ThreadID != "" {
		if parent, err := s.repo.GetMessage(ctx, req.ThreadID); err == nil {
			notifyMentions = parent.Mentions
		}
	}

	msg := &models.Message{
		ChannelID: channel.ID,
		AuthorID:  req.AuthorID,
		Content:   req.Content,
		Mentions:  notifyMentions,
		ThreadID:  req.ThreadID,
	}
	if err := s.repo.PostMessage(ctx, msg); err != nil {
		s.logger.Error("failed to post message", zap.Error(err))
		return nil, err
	}

	result := &PostResult{Message: msg}
	if models.IsTaskCommand(req.Content) {
		result.Tasks = s.synthesiseTasks(ctx, channel, msg, ownMentions)
	}

	s.publishChannelEvent(ctx, events.MessagePosted, channel.ID, map[string]interface{}{
		"channel_id":    channel.ID,
		"message_id":    msg.ID,
		"author_id":     msg.AuthorID,
		"mentions":      len(msg.Mentions),
		"tasks_created": len(result.Tasks),
	})
	return result, nil
}

// resolveMentions unions explicit agent IDs with @names resolved against the
// registry, distinct in order of first appearance. Unknown names are dropped.
func (s *Service) resolveMentions(ctx context.Context, explicit []string, content string) []string {
	seen := make(map[string]struct{})
	var mentions []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		mentions = append(mentions, id)
	}

	for _, id := range explicit {
		add(id)
	}
	for _, name := range models.ExtractMentionNames(content) {
		agent, err := s.agents.GetAgentByName(ctx, name)
		if err != nil {
			s.logger.Debug("mention does not match an agent", zap.String("name", name))
			continue
		}
		add(agent.ID)
	}
	return mentions
}

// synthesiseTasks creates one direct-assigned pending task per mentioned
// agent of a /task message. Inherited mentions never reach this path.
func (s *Service) synthesiseTasks(ctx context.Context, channel *models.Channel, msg *models.Message, mentions []string) []*taskmodels.Task {
	body := models.TaskCommandBody(msg.Content)
	if body == "" || len(mentions) == 0 {
		return nil
	}

	var created []*taskmodels.Task
	for _, agentID := range mentions {
		task, err := s.tasks.CreateTask(ctx, &taskservice.CreateTaskRequest{
			Task:             body,
			AgentID:          agentID,
			CreatorAgentID:   msg.AuthorID,
			Source:           taskmodels.SourceAPI,
			EpicID:           channel.EpicID,
			MentionMessageID: msg.ID,
			MentionChannelID: channel.ID,
		})
		if err != nil {
			s.logger.Error("failed to synthesise task from message",
				zap.String("message_id", msg.ID),
				zap.String("agent_id", agentID),
				zap.Error(err))
			continue
		}
		created = append(created, task)
	}
	if len(created) > 0 {
		s.logger.Info("tasks synthesised from channel message",
			zap.String("channel_id", channel.ID),
			zap.String("message_id", msg.ID),
			zap.Int("count", len(created)))
	}
	return created
}

// GetMessage retrieves a channel message by ID.
func (s *Service) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return s.repo.GetMessage(ctx, id)
}

// ListMessages returns messages in a channel plus the total count.
func (s *Service) ListMessages(ctx context.Context, channelID string, limit, offset int) ([]*models.Message, int, error) {
	if _, err := s.repo.GetChannel(ctx, channelID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListMessages(ctx, channelID, limit, offset)
}

// ListThread returns the replies to a parent message.
func (s *Service) ListThread(ctx context.Context, threadID string) ([]*models.Message, error) {
	return s.repo.ListThread(ctx, threadID)
}

// UnreadMentions reports the agent's unread mention counts without claiming.
func (s *Service) UnreadMentions(ctx context.Context, agentID string) ([]*models.ClaimedChannel, error) {
	return s.repo.UnreadMentions(ctx, agentID)
}

// UnreadMentionMessages returns the unread messages behind a claimed channel.
func (s *Service) UnreadMentionMessages(ctx context.Context, agentID, channelID string) ([]*models.Message, error) {
	return s.repo.UnreadMentionMessages(ctx, agentID, channelID)
}

// ClaimMentions takes the advisory lock on every channel where the agent has
// unread mentions and returns the channels actually won.
func (s *Service) ClaimMentions(ctx context.Context, agentID string) ([]*models.ClaimedChannel, error) {
	claimed, err := s.repo.ClaimMentions(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		s.publishChannelEvent(ctx, events.MentionsClaimed, "", map[string]interface{}{
			"agent_id": agentID,
			"channels": len(claimed),
		})
	}
	return claimed, nil
}

// ReleaseMentionProcessing clears the agent's advisory locks after handling.
func (s *Service) ReleaseMentionProcessing(ctx context.Context, agentID string, channelIDs []string) error {
	return s.repo.ReleaseMentionProcessing(ctx, agentID, channelIDs)
}

// MarkChannelRead moves the read watermark to now and releases the lock.
func (s *Service) MarkChannelRead(ctx context.Context, agentID, channelID string) error {
	if _, err := s.repo.GetChannel(ctx, channelID); err != nil {
		return err
	}
	return s.repo.MarkChannelRead(ctx, agentID, channelID)
}

func (s *Service) publishChannelEvent(ctx context.Context, eventType, channelID string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "messaging-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish messaging event",
			zap.String("event_type", eventType),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}
