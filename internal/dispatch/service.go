package dispatch

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agentmodels "github.com/agentswarm/agentswarm/internal/agent/models"
	agentrepo "github.com/agentswarm/agentswarm/internal/agent/repository"
	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/deeplink"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	epicsqlite "github.com/agentswarm/agentswarm/internal/epic/repository/sqlite"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	msgsqlite "github.com/agentswarm/agentswarm/internal/messaging/repository/sqlite"
	"github.com/agentswarm/agentswarm/internal/store"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	tasksqlite "github.com/agentswarm/agentswarm/internal/task/repository/sqlite"
)

// Service evaluates the trigger precedence for polling agents. It composes
// the task, messaging, and epic selection queries into one transaction on
// the writer pool; the empty-poll counter is bookkeeping and lives outside
// that transaction.
type Service struct {
	db       *sqlx.DB
	agents   agentrepo.Repository
	links    *deeplink.Builder
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a new dispatch service on the writer pool.
func NewService(db *sqlx.DB, agents agentrepo.Repository, links *deeplink.Builder, eventBus bus.EventBus, log *logger.Logger) *Service {
	if links == nil {
		links = deeplink.NewBuilder("")
	}
	return &Service{
		db:       db,
		agents:   agents,
		links:    links,
		eventBus: eventBus,
		logger:   log.WithComponent("dispatch"),
	}
}

// Poll returns the next trigger for the agent, or a null trigger with the
// blocked flag once the agent has polled empty too many times in a row.
func (s *Service) Poll(ctx context.Context, agentID string) (*PollResult, error) {
	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var trigger *Trigger
	err = store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		trigger, err = s.evaluate(ctx, tx, agent)
		return err
	})
	if err != nil {
		return nil, err
	}

	if trigger == nil {
		count, err := s.agents.IncrementEmptyPolls(ctx, agentID)
		if err != nil {
			return nil, err
		}
		return &PollResult{Blocked: count >= constants.MaxEmptyPolls}, nil
	}

	if err := s.agents.ResetEmptyPolls(ctx, agentID); err != nil {
		s.logger.Warn("failed to reset empty-poll counter",
			zap.String("agent_id", agentID), zap.Error(err))
	}
	s.publishTrigger(ctx, agentID, trigger)
	return &PollResult{Trigger: trigger}, nil
}

// evaluate walks the precedence chain inside the poll transaction. The
// stale-work sweeps ride along first so released and paused tasks are
// visible to the same poll.
func (s *Service) evaluate(ctx context.Context, tx *sqlx.Tx, agent *agentmodels.Agent) (*Trigger, error) {
	now := time.Now().UTC()

	if _, err := tasksqlite.ReleaseStaleReviewing(ctx, tx, now.Add(-constants.StaleReviewingTimeout)); err != nil {
		return nil, err
	}
	if _, err := tasksqlite.PauseAbandonedTasks(ctx, tx, now.Add(-constants.StaleSessionTimeout)); err != nil {
		return nil, err
	}
	if _, err := tasksqlite.ReleaseStalePaused(ctx, tx, now.Add(-constants.StaleReviewingTimeout)); err != nil {
		return nil, err
	}

	// 1. Cancellations the agent has not observed yet.
	cancelled, err := tasksqlite.RecentlyCancelled(ctx, tx, agent.ID, now.Add(-constants.CancelledTriggerWindow))
	if err != nil {
		return nil, err
	}
	if len(cancelled) > 0 {
		t := cancelled[0]
		if err := tasksqlite.SetNotified(ctx, tx, []string{t.ID}, now); err != nil {
			return nil, err
		}
		return &Trigger{Type: TriggerTaskCancelled, Task: t, Link: s.links.Task(t.ID)}, nil
	}

	// 2. Open offers; the claim is atomic, a lost race skips to the next.
	offers, err := tasksqlite.OfferedTo(ctx, tx, agent.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range offers {
		claimed, err := tasksqlite.TryClaimOffered(ctx, tx, t.ID, agent.ID)
		if err != nil {
			return nil, err
		}
		if claimed {
			t.Status = taskmodels.StatusReviewing
			t.LastUpdatedAt = now
			return &Trigger{Type: TriggerTaskOffered, Task: t, Link: s.links.Task(t.ID)}, nil
		}
	}

	// 3. Ready-task selection.
	ready, err := tasksqlite.ReadyTaskForAgent(ctx, tx, agent.ID)
	if err != nil {
		return nil, err
	}
	if ready != nil {
		return &Trigger{Type: TriggerTaskAssigned, Task: ready, Link: s.links.Task(ready.ID)}, nil
	}

	// 4. Paused work to resume.
	paused, err := tasksqlite.PausedForAgent(ctx, tx, agent.ID)
	if err != nil {
		return nil, err
	}
	if len(paused) > 0 {
		t := paused[0]
		return &Trigger{Type: TriggerTaskPaused, Task: t, Link: s.links.Task(t.ID)}, nil
	}

	if !agent.IsLead {
		return nil, nil
	}

	// 5. Lead-only signals.
	channels, err := msgsqlite.ClaimMentions(ctx, tx, agent.ID)
	if err != nil {
		return nil, err
	}
	if len(channels) > 0 {
		total := 0
		for _, ch := range channels {
			total += ch.Count
		}
		trigger := &Trigger{Type: TriggerUnreadMentions, Channels: channels, MentionCount: total}
		if len(channels) == 1 {
			trigger.Link = s.links.Channel(channels[0].ChannelID)
		}
		return trigger, nil
	}

	pool, err := tasksqlite.CountPoolTasks(ctx, tx)
	if err != nil {
		return nil, err
	}
	if pool > 0 {
		return &Trigger{Type: TriggerPoolTasksAvailable, PoolCount: pool}, nil
	}

	epics, err := epicsqlite.EpicsWithProgressUpdates(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(epics) > 0 {
		updates := make([]*EpicProgressUpdate, 0, len(epics))
		ids := make([]string, 0, len(epics))
		for _, e := range epics {
			progress, err := epicsqlite.EpicProgress(ctx, tx, e.ID)
			if err != nil {
				return nil, err
			}
			updates = append(updates, &EpicProgressUpdate{Epic: e, Progress: progress, Link: s.links.Epic(e.ID)})
			ids = append(ids, e.ID)
		}
		if err := epicsqlite.MarkEpicsProgressNotified(ctx, tx, ids); err != nil {
			return nil, err
		}
		return &Trigger{Type: TriggerEpicProgress, Epics: updates}, nil
	}

	finished, err := tasksqlite.FinishedWorkerTasks(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(finished) > 0 {
		ids := make([]string, 0, len(finished))
		for _, t := range finished {
			ids = append(ids, t.ID)
		}
		if err := tasksqlite.SetNotified(ctx, tx, ids, now); err != nil {
			return nil, err
		}
		return &Trigger{Type: TriggerWorkerTaskFinished, Tasks: finished}, nil
	}

	return nil, nil
}

func (s *Service) publishTrigger(ctx context.Context, agentID string, trigger *Trigger) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"agent_id":     agentID,
		"trigger_type": string(trigger.Type),
	}
	if trigger.Task != nil {
		data["task_id"] = trigger.Task.ID
	}
	event := bus.NewEvent(events.TriggerDelivered, "dispatch", data)
	if err := s.eventBus.Publish(ctx, events.TriggerDelivered, event); err != nil {
		s.logger.Error("failed to publish trigger event",
			zap.String("agent_id", agentID), zap.Error(err))
	}
}
