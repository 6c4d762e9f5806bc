package ingress

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	agentmodels "github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	messagingmodels "github.com/agentswarm/agentswarm/internal/messaging/models"
	messagingservice "github.com/agentswarm/agentswarm/internal/messaging/service"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	taskservice "github.com/agentswarm/agentswarm/internal/task/service"
)

var (
	// ErrDuplicate marks a webhook redelivery inside the dedup window.
	ErrDuplicate = errors.New("duplicate delivery")
	// ErrRateLimited marks a sender over the per-window chat budget.
	ErrRateLimited = errors.New("sender rate limited")
)

// AgentDirectory resolves registry names to agents.
type AgentDirectory interface {
	GetAgentByName(ctx context.Context, name string) (*agentmodels.Agent, error)
}

// TaskCreator turns task-command events into tasks.
type TaskCreator interface {
	CreateTask(ctx context.Context, req *taskservice.CreateTaskRequest) (*taskmodels.Task, error)
}

// InboxWriter delivers conversational events to the agent inbox.
type InboxWriter interface {
	CreateInboxMessage(ctx context.Context, req *messagingservice.InboxRequest) (*messagingmodels.InboxMessage, error)
}

// Result reports what an accepted event produced.
type Result struct {
	Task  *taskmodels.Task              `json:"task,omitempty"`
	Inbox *messagingmodels.InboxMessage `json:"inbox,omitempty"`
}

// Ingestor is the shared funnel behind the external adapters. It owns the
// dedup window and per-sender rate limit so every adapter gets the same
// delivery guarantees.
type Ingestor struct {
	agents  AgentDirectory
	tasks   TaskCreator
	inbox   InboxWriter
	deduper *Deduper
	limiter *RateLimiter
	logger  *logger.Logger
}

func NewIngestor(agents AgentDirectory, tasks TaskCreator, inbox InboxWriter, log *logger.Logger) *Ingestor {
	return &Ingestor{
		agents:  agents,
		tasks:   tasks,
		inbox:   inbox,
		deduper: NewDeduper(),
		limiter: NewRateLimiter(),
		logger:  log.WithComponent("ingress"),
	}
}

// Ingest validates, dedups, rate limits and dispatches one normalized event.
// Task-command events become tasks attributed to the event source; everything
// else lands in the target agent's inbox.
func (i *Ingestor) Ingest(ctx context.Context, event *Event) (*Result, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if i.deduper.Seen(event.DedupKey()) {
		i.logger.Debug("dropping duplicate delivery",
			zap.String("kind", string(event.Kind)),
			zap.String("event_id", event.EventID))
		return nil, ErrDuplicate
	}
	if event.Kind == KindChat && event.SenderKey != "" && !i.limiter.Allow(event.SenderKey) {
		i.logger.Warn("sender over rate limit",
			zap.String("sender", event.SenderKey))
		return nil, ErrRateLimited
	}

	agent, err := i.agents.GetAgentByName(ctx, event.AgentName)
	if err != nil {
		return nil, err
	}

	if event.TaskCommand {
		task, err := i.tasks.CreateTask(ctx, i.taskRequest(agent.ID, event))
		if err != nil {
			return nil, err
		}
		i.logger.Info("ingress event became a task",
			zap.String("kind", string(event.Kind)),
			zap.String("task_id", task.ID),
			zap.String("agent_id", agent.ID))
		return &Result{Task: task}, nil
	}

	msg, err := i.inbox.CreateInboxMessage(ctx, &messagingservice.InboxRequest{
		AgentID:          agent.ID,
		Source:           string(event.TaskSource()),
		SenderName:       event.SenderName,
		ExternalThreadID: event.ExternalThreadID(),
		Content:          i.inboxContent(event),
	})
	if err != nil {
		return nil, err
	}
	i.logger.Info("ingress event delivered to inbox",
		zap.String("kind", string(event.Kind)),
		zap.String("message_id", msg.ID),
		zap.String("agent_id", agent.ID))
	return &Result{Inbox: msg}, nil
}

func (i *Ingestor) taskRequest(agentID string, event *Event) *taskservice.CreateTaskRequest {
	return &taskservice.CreateTaskRequest{
		Task:     event.Content,
		AgentID:  agentID,
		Source:   event.TaskSource(),
		Priority: event.Priority,

		SlackChannel:      event.SlackChannel,
		SlackTs:           event.SlackTs,
		GithubRepo:        event.GithubRepo,
		GithubIssueNumber: event.GithubIssueNumber,
		AgentmailThreadID: event.MailThreadID,
	}
}

// inboxContent prefixes the message with its origin so the worker can tell
// external conversations apart from swarm-internal ones.
func (i *Ingestor) inboxContent(event *Event) string {
	from := event.SenderName
	if from == "" {
		from = "unknown sender"
	}
	switch event.Kind {
	case KindGithub:
		origin := event.GithubRepo
		if event.GithubIssueNumber > 0 {
			origin = fmt.Sprintf("%s#%d", event.GithubRepo, event.GithubIssueNumber)
		}
		return fmt.Sprintf("[github %s] %s: %s", origin, from, event.Content)
	case KindMail:
		return fmt.Sprintf("[mail %s] %s: %s", event.MailThreadID, from, event.Content)
	default:
		return fmt.Sprintf("[%s] %s: %s", event.SlackChannel, from, event.Content)
	}
}
