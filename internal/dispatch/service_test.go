package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "github.com/agentswarm/agentswarm/internal/agent/models"
	agentsqlite "github.com/agentswarm/agentswarm/internal/agent/repository/sqlite"
	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/common/deeplink"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/db"
	epicmodels "github.com/agentswarm/agentswarm/internal/epic/models"
	epicsqlite "github.com/agentswarm/agentswarm/internal/epic/repository/sqlite"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	messagingmodels "github.com/agentswarm/agentswarm/internal/messaging/models"
	msgsqlite "github.com/agentswarm/agentswarm/internal/messaging/repository/sqlite"
	sessionmodels "github.com/agentswarm/agentswarm/internal/session/models"
	sessionsqlite "github.com/agentswarm/agentswarm/internal/session/repository/sqlite"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	tasksqlite "github.com/agentswarm/agentswarm/internal/task/repository/sqlite"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

type pollFixture struct {
	pool     *db.Pool
	svc      *Service
	agents   *agentsqlite.Repository
	tasks    *tasksqlite.Repository
	msgs     *msgsqlite.Repository
	epics    *epicsqlite.Repository
	sessions *sessionsqlite.Repository
	bus      bus.EventBus
}

// newPollFixture wires the dispatcher against every repository it composes,
// the way kernel boot does. An empty appURL disables deep links.
func newPollFixture(t *testing.T, appURL string) *pollFixture {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	_, err = agentlog.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	agents, err := agentsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	tasks, err := tasksqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	msgs, err := msgsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	epics, err := epicsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	sessions, err := sessionsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(testLogger())
	t.Cleanup(eventBus.Close)

	var links *deeplink.Builder
	if appURL != "" {
		links = deeplink.NewBuilder(appURL)
	}
	svc := NewService(pool.Writer(), agents, links, eventBus, testLogger())
	return &pollFixture{pool: pool, svc: svc, agents: agents, tasks: tasks, msgs: msgs, epics: epics, sessions: sessions, bus: eventBus}
}

func (f *pollFixture) addAgent(t *testing.T, id, name string, isLead bool) {
	t.Helper()
	err := f.agents.CreateAgent(context.Background(), &agentmodels.Agent{ID: id, Name: name, IsLead: isLead})
	require.NoError(t, err)
}

func (f *pollFixture) addTask(t *testing.T, mutate func(*taskmodels.Task)) *taskmodels.Task {
	t.Helper()
	task := &taskmodels.Task{Description: "do the thing", Status: taskmodels.StatusUnassigned}
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, f.tasks.CreateTask(context.Background(), task))
	return task
}

func TestPollUnknownAgent(t *testing.T) {
	f := newPollFixture(t, "")

	_, err := f.svc.Poll(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent not found")
}

func TestPollEmptyBackoff(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger)
	assert.False(t, result.Blocked)

	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger)
	assert.True(t, result.Blocked, "the second consecutive empty poll blocks")
}

func TestPollPrecedenceChain(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	cancelled := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusInProgress
		task.AgentID = "worker-1"
	})
	_, err := f.tasks.CancelTask(ctx, cancelled.ID, "superseded")
	require.NoError(t, err)

	offered := f.addTask(t, nil)
	_, err = f.tasks.OfferTask(ctx, offered.ID, "worker-1")
	require.NoError(t, err)

	pending := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusPending
		task.AgentID = "worker-1"
	})

	paused := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusPaused
		task.AgentID = "worker-1"
	})

	var delivered []string
	_, err = f.bus.Subscribe(events.TriggerDelivered, func(_ context.Context, event *bus.Event) error {
		delivered = append(delivered, event.Data["trigger_type"].(string))
		return nil
	})
	require.NoError(t, err)

	// Cancellation outranks everything else the agent has waiting.
	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskCancelled, result.Trigger.Type)
	assert.Equal(t, cancelled.ID, result.Trigger.Task.ID)

	// The cancellation was acknowledged, so the offer is next. Delivering
	// the offer claims it into reviewing.
	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskOffered, result.Trigger.Type)
	assert.Equal(t, offered.ID, result.Trigger.Task.ID)
	assert.Equal(t, taskmodels.StatusReviewing, result.Trigger.Task.Status)

	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskAssigned, result.Trigger.Type)
	assert.Equal(t, pending.ID, result.Trigger.Task.ID)

	_, err = f.tasks.CompleteTask(ctx, pending.ID, "done")
	require.NoError(t, err)

	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskPaused, result.Trigger.Type)
	assert.Equal(t, paused.ID, result.Trigger.Task.ID)

	// Every delivered trigger resets the empty-poll counter.
	agent, err := f.agents.GetAgent(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.EmptyPollCount)

	assert.Equal(t, []string{
		string(TriggerTaskCancelled),
		string(TriggerTaskOffered),
		string(TriggerTaskAssigned),
		string(TriggerTaskPaused),
	}, delivered)
}

func TestPollPausesAbandonedWork(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	abandoned := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusInProgress
		task.AgentID = "worker-1"
	})
	sess := &sessionmodels.ActiveSession{AgentID: "worker-1", TaskID: abandoned.ID}
	require.NoError(t, f.sessions.StartSession(ctx, sess))
	_, err := f.pool.Writer().Exec(`UPDATE active_sessions SET last_heartbeat_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), sess.ID)
	require.NoError(t, err)

	// The sweep pauses the abandoned task inside the poll transaction, so
	// the same poll hands it back for resumption.
	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskPaused, result.Trigger.Type)
	assert.Equal(t, abandoned.ID, result.Trigger.Task.ID)

	got, err := f.tasks.GetTask(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, taskmodels.StatusPaused, got.Status)
	assert.Equal(t, "worker-1", got.AgentID)
}

func TestPollSkipsStaleCancellations(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	cancelled := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusInProgress
		task.AgentID = "worker-1"
	})
	_, err := f.tasks.CancelTask(ctx, cancelled.ID, "superseded")
	require.NoError(t, err)

	// Push the cancellation outside the trigger window.
	_, err = f.pool.Writer().Exec(`UPDATE agent_tasks SET finished_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-10*time.Minute), cancelled.ID)
	require.NoError(t, err)

	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger)
}

func TestPollDeliversLinks(t *testing.T) {
	f := newPollFixture(t, "https://hive.example.com/")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	pending := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusPending
		task.AgentID = "worker-1"
	})

	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, "https://hive.example.com/tasks/"+pending.ID, result.Trigger.Link)
}

func TestPollDependencyGate(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	dep := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusInProgress
		task.AgentID = "worker-2"
	})
	gated := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusPending
		task.AgentID = "worker-1"
		task.DependsOn = []string{dep.ID}
	})

	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger, "a blocked task must not be dispatched")

	_, err = f.tasks.CompleteTask(ctx, dep.ID, "done")
	require.NoError(t, err)

	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskAssigned, result.Trigger.Type)
	assert.Equal(t, gated.ID, result.Trigger.Task.ID)
}

func TestPoolTriggerIsLeadOnly(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	f.addAgent(t, "lead-1", "queen", true)
	ctx := context.Background()

	f.addTask(t, nil)
	f.addTask(t, nil)

	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger, "workers do not see pool availability")

	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerPoolTasksAvailable, result.Trigger.Type)
	assert.Equal(t, 2, result.Trigger.PoolCount)
}

func TestMentionTrigger(t *testing.T) {
	f := newPollFixture(t, "https://hive.example.com")
	f.addAgent(t, "lead-1", "queen", true)
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := f.msgs.PostMessage(ctx, &messagingmodels.Message{
			ChannelID: messagingmodels.DefaultChannelID,
			AuthorID:  "worker-1",
			Content:   "@queen need a review",
			Mentions:  []string{"lead-1"},
		})
		require.NoError(t, err)
	}

	result, err := f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerUnreadMentions, result.Trigger.Type)
	assert.Equal(t, 2, result.Trigger.MentionCount)
	require.Len(t, result.Trigger.Channels, 1)
	assert.Equal(t, messagingmodels.DefaultChannelID, result.Trigger.Channels[0].ChannelID)
	assert.Equal(t, "https://hive.example.com/channels/"+messagingmodels.DefaultChannelID, result.Trigger.Link)

	// The claim locks the channel, so the next poll does not re-deliver.
	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger)

	// Reading the channel clears both the watermark and the lock.
	require.NoError(t, f.msgs.MarkChannelRead(ctx, "lead-1", messagingmodels.DefaultChannelID))
	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger)
}

func TestEpicProgressThenFinishedWorker(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "lead-1", "queen", true)
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	epic := &epicmodels.Epic{Name: "migration", LeadAgentID: "lead-1"}
	require.NoError(t, f.epics.CreateEpic(ctx, epic))
	_, err := f.epics.UpdateEpicStatus(ctx, epic.ID, epicmodels.StatusActive)
	require.NoError(t, err)

	done := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusInProgress
		task.AgentID = "worker-1"
		task.EpicID = epic.ID
	})
	f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusPending
		task.AgentID = "worker-1"
		task.EpicID = epic.ID
	})
	_, err = f.tasks.CompleteTask(ctx, done.ID, "shipped")
	require.NoError(t, err)

	result, err := f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerEpicProgress, result.Trigger.Type)
	require.Len(t, result.Trigger.Epics, 1)
	update := result.Trigger.Epics[0]
	assert.Equal(t, epic.ID, update.Epic.ID)
	assert.Equal(t, 2, update.Progress.Total)
	assert.Equal(t, 1, update.Progress.Completed)
	assert.Equal(t, 50, update.Progress.Progress)

	// With the epic notified, the same completion surfaces once more as a
	// finished worker task, then goes quiet.
	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerWorkerTaskFinished, result.Trigger.Type)
	require.Len(t, result.Trigger.Tasks, 1)
	assert.Equal(t, done.ID, result.Trigger.Tasks[0].ID)

	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger)
}

func TestPollReleasesStaleReviewing(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	task := f.addTask(t, nil)
	_, err := f.tasks.OfferTask(ctx, task.ID, "worker-1")
	require.NoError(t, err)
	_, err = f.tasks.ClaimOffered(ctx, task.ID, "worker-1")
	require.NoError(t, err)

	// The agent went away mid-review; age the claim past the timeout.
	_, err = f.pool.Writer().Exec(`UPDATE agent_tasks SET last_updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), task.ID)
	require.NoError(t, err)

	// The sweep runs inside the poll, so the released offer is delivered
	// in the very same call.
	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskOffered, result.Trigger.Type)
	assert.Equal(t, task.ID, result.Trigger.Task.ID)
}
