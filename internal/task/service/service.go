package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/task/models"
	"github.com/agentswarm/agentswarm/internal/task/repository"
)

var (
	ErrEmptyTask     = errors.New("task text is required")
	ErrUnknownStatus = errors.New("unknown task status")
)

// CreateTaskRequest carries all options for task creation. The initial
// status is derived from which routing fields are set, see Service.CreateTask.
type CreateTaskRequest struct {
	Task           string
	AgentID        string
	CreatorAgentID string
	OfferedTo      string
	Backlog        bool

	Source    models.TaskSource
	TaskType  string
	Tags      []string
	Priority  int
	DependsOn []string

	EpicID       string
	ParentTaskID string

	SlackChannel      string
	SlackTs           string
	GithubRepo        string
	GithubIssueNumber int
	AgentmailThreadID string
	MentionMessageID  string
	MentionChannelID  string
}

func (r *CreateTaskRequest) validate() error {
	if strings.TrimSpace(r.Task) == "" {
		return ErrEmptyTask
	}
	if r.Source != "" && !validSource(r.Source) {
		return fmt.Errorf("unknown task source: %s", r.Source)
	}
	return nil
}

func validSource(s models.TaskSource) bool {
	switch s {
	case models.SourceMCP, models.SourceSlack, models.SourceAPI,
		models.SourceGithub, models.SourceAgentMail, models.SourceScheduler:
		return true
	}
	return false
}

// Service provides task lifecycle business logic.
type Service struct {
	repo     repository.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a new task service.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithComponent("task-service"),
	}
}
