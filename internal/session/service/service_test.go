package service

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
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/db"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/session/models"
	sessionsqlite "github.com/agentswarm/agentswarm/internal/session/repository/sqlite"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	tasksqlite "github.com/agentswarm/agentswarm/internal/task/repository/sqlite"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

type sessionFixture struct {
	pool   *db.Pool
	svc    *Service
	repo   *sessionsqlite.Repository
	agents *agentsqlite.Repository
	tasks  *tasksqlite.Repository
	bus    bus.EventBus
}

// newSessionFixture also wires the agent and task repositories: the stats
// read model and the cost dashboard aggregate across their tables.
func newSessionFixture(t *testing.T) *sessionFixture {
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
	repo, err := sessionsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(testLogger())
	t.Cleanup(eventBus.Close)

	return &sessionFixture{
		pool:   pool,
		svc:    NewService(repo, eventBus, testLogger()),
		repo:   repo,
		agents: agents,
		tasks:  tasks,
		bus:    eventBus,
	}
}

func (f *sessionFixture) capture(t *testing.T, eventType string) *[]string {
	t.Helper()
	var published []string
	_, err := f.bus.Subscribe(eventType, func(_ context.Context, event *bus.Event) error {
		published = append(published, event.Type)
		return nil
	})
	require.NoError(t, err)
	return &published
}

func TestStartSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, &StartSessionRequest{TaskID: "task-1"})
	assert.ErrorIs(t, err, ErrEmptyAgentID)

	started := f.capture(t, events.SessionStarted)
	session, err := f.svc.Start(ctx, &StartSessionRequest{
		AgentID:         "worker-1",
		TaskID:          "task-1",
		TriggerType:     "task_assigned",
		TaskDescription: "write the report",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.False(t, session.StartedAt.IsZero())
	assert.False(t, session.LastHeartbeatAt.IsZero())
	assert.Equal(t, []string{events.SessionStarted}, *started)
}

func TestHeartbeat(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Heartbeat(ctx, ""), ErrNoSessionRef)

	err := f.svc.Heartbeat(ctx, "task-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found for task")

	session, err := f.svc.Start(ctx, &StartSessionRequest{AgentID: "worker-1", TaskID: "task-1"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.svc.Heartbeat(ctx, "task-1"))

	after, err := f.repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, after.LastHeartbeatAt.After(session.LastHeartbeatAt))
}

func TestEndSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.End(ctx, "", ""), ErrNoSessionRef)

	byID, err := f.svc.Start(ctx, &StartSessionRequest{AgentID: "worker-1"})
	require.NoError(t, err)
	byTask, err := f.svc.Start(ctx, &StartSessionRequest{AgentID: "worker-2", TaskID: "task-2"})
	require.NoError(t, err)

	ended := f.capture(t, events.SessionEnded)
	require.NoError(t, f.svc.End(ctx, byID.ID, ""))
	require.NoError(t, f.svc.End(ctx, "", "task-2"))
	assert.Equal(t, []string{events.SessionEnded, events.SessionEnded}, *ended)

	_, err = f.repo.GetSession(ctx, byID.ID)
	require.Error(t, err)
	_, err = f.repo.GetSession(ctx, byTask.ID)
	require.Error(t, err)

	err = f.svc.End(ctx, byID.ID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestListSessions(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	for _, agentID := range []string{"worker-1", "worker-2", "worker-1"} {
		_, err := f.svc.Start(ctx, &StartSessionRequest{AgentID: agentID})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	all, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "worker-1", all[0].AgentID, "sessions listed newest first")

	mine, err := f.svc.List(ctx, "worker-2")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestCleanupStale(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	stale, err := f.svc.Start(ctx, &StartSessionRequest{AgentID: "worker-1", TaskID: "task-1"})
	require.NoError(t, err)
	fresh, err := f.svc.Start(ctx, &StartSessionRequest{AgentID: "worker-2"})
	require.NoError(t, err)

	_, err = f.pool.Writer().Exec(`UPDATE active_sessions SET last_heartbeat_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), stale.ID)
	require.NoError(t, err)

	removed, err := f.svc.CleanupStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = f.repo.GetSession(ctx, stale.ID)
	require.Error(t, err)
	_, err = f.repo.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestRecordCostAndSummary(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordCost(ctx, &models.SessionCost{TotalCostUSD: 1})
	assert.ErrorIs(t, err, ErrEmptyAgentID)

	costs := []*models.SessionCost{
		{AgentID: "worker-1", TaskID: "task-1", Model: "opus", InputTokens: 1000, OutputTokens: 200, TotalCostUSD: 1.5, DurationMs: 4000, NumTurns: 10},
		{AgentID: "worker-1", TaskID: "task-2", Model: "sonnet", InputTokens: 500, OutputTokens: 100, TotalCostUSD: 0.5, DurationMs: 2000, NumTurns: 6},
		{AgentID: "worker-2", TaskID: "task-1", Model: "sonnet", InputTokens: 300, OutputTokens: 50, TotalCostUSD: 0.25, DurationMs: 1000, NumTurns: 2},
	}
	for _, c := range costs {
		_, err := f.svc.RecordCost(ctx, c)
		require.NoError(t, err)
	}

	summary, err := f.svc.CostSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalSessions)
	assert.Equal(t, int64(1800), summary.TotalInputTokens)
	assert.InDelta(t, 2.25, summary.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.75, summary.AvgCostPerSession, 1e-9)
	assert.InDelta(t, 6.0, summary.AvgTurnsPerSession, 1e-9)
	assert.Equal(t, int64(2333), summary.AvgDurationPerRunMs)

	byAgent, err := f.svc.ListCosts(ctx, models.CostFilter{AgentID: "worker-1"})
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)

	byTask, err := f.svc.ListCosts(ctx, models.CostFilter{TaskID: "task-1"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	future := time.Now().UTC().Add(time.Hour)
	none, err := f.svc.ListCosts(ctx, models.CostFilter{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCostDashboard(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	err := f.agents.CreateAgent(ctx, &agentmodels.Agent{ID: "worker-1", Name: "ada"})
	require.NoError(t, err)

	_, err = f.svc.RecordCost(ctx, &models.SessionCost{AgentID: "worker-1", InputTokens: 100, OutputTokens: 50, TotalCostUSD: 2, NumTurns: 4})
	require.NoError(t, err)
	_, err = f.svc.RecordCost(ctx, &models.SessionCost{AgentID: "worker-1", InputTokens: 100, TotalCostUSD: 1, NumTurns: 2})
	require.NoError(t, err)
	_, err = f.svc.RecordCost(ctx, &models.SessionCost{AgentID: "ghost", InputTokens: 10, TotalCostUSD: 0.1, NumTurns: 1})
	require.NoError(t, err)

	dashboard, err := f.svc.CostDashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), dashboard.Summary.TotalSessions)
	require.Len(t, dashboard.Agents, 2)

	// Ranked by spend; names resolved through the registry with the raw
	// agent id as the fallback.
	top := dashboard.Agents[0]
	assert.Equal(t, "ada", top.AgentName)
	assert.Equal(t, int64(2), top.SessionCount)
	assert.Equal(t, int64(250), top.TotalTokens)
	assert.InDelta(t, 3.0, top.TotalCostUSD, 1e-9)
	require.NotNil(t, top.LastActiveAt)
	assert.Equal(t, "ghost", dashboard.Agents[1].AgentName)
}

func TestSessionLogs(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.AppendLog(ctx, &models.SessionLog{Content: "line"})
	assert.ErrorIs(t, err, ErrEmptyAgentID)
	_, err = f.svc.AppendLog(ctx, &models.SessionLog{AgentID: "worker-1"})
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = f.svc.ListLogs(ctx, "", "")
	assert.ErrorIs(t, err, ErrNoSessionRef)

	for _, line := range []string{"cloning the repo", "running the suite"} {
		_, err := f.svc.AppendLog(ctx, &models.SessionLog{AgentID: "worker-1", TaskID: "task-1", SessionID: "sess-1", Content: line})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	_, err = f.svc.AppendLog(ctx, &models.SessionLog{AgentID: "worker-2", TaskID: "task-2", Content: "other task"})
	require.NoError(t, err)

	logs, err := f.svc.ListLogs(ctx, "task-1", "")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "cloning the repo", logs[0].Content, "logs read oldest first")

	bySession, err := f.svc.ListLogs(ctx, "", "sess-1")
	require.NoError(t, err)
	assert.Len(t, bySession, 2)
}

func TestSwarmStats(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.agents.CreateAgent(ctx, &agentmodels.Agent{ID: "worker-1", Name: "ada"}))
	require.NoError(t, f.agents.CreateAgent(ctx, &agentmodels.Agent{ID: "worker-2", Name: "lin"}))
	require.NoError(t, f.agents.SetStatus(ctx, "worker-2", agentmodels.StatusBusy))

	require.NoError(t, f.tasks.CreateTask(ctx, &taskmodels.Task{Description: "waiting work", Status: taskmodels.StatusUnassigned}))
	require.NoError(t, f.tasks.CreateTask(ctx, &taskmodels.Task{Description: "done work", Status: taskmodels.StatusCompleted, AgentID: "worker-1"}))

	_, err := f.svc.Start(ctx, &StartSessionRequest{AgentID: "worker-2", TaskID: "task-9"})
	require.NoError(t, err)
	_, err = f.svc.RecordCost(ctx, &models.SessionCost{AgentID: "worker-2", TotalCostUSD: 0.4})
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalAgents)
	assert.Equal(t, int64(1), stats.IdleAgents)
	assert.Equal(t, int64(1), stats.BusyAgents)
	assert.Equal(t, int64(0), stats.OfflineAgents)
	assert.Equal(t, int64(2), stats.TotalTasks)
	assert.Equal(t, int64(1), stats.UnassignedTasks)
	assert.Equal(t, int64(1), stats.CompletedTasks)
	assert.Equal(t, int64(1), stats.ActiveSessions)
	assert.InDelta(t, 0.4, stats.TotalCostUSD, 1e-9)
}
