package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "github.com/agentswarm/agentswarm/internal/agent/models"
	agentservice "github.com/agentswarm/agentswarm/internal/agent/service"
	messagingmodels "github.com/agentswarm/agentswarm/internal/messaging/models"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
)

// These tests walk whole kernel flows the way a lead and a worker would
// drive them over the HTTP API, one poll at a time.

// A lead sees pool availability, offers the task to a worker, and the
// worker carries it through offer review, execution and completion. The
// finished task reaches the lead exactly once per notification cycle.
func TestScenarioOfferLifecycle(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "lead-1", "queen", true)
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	registry := agentservice.NewService(f.agents, f.tasks, f.bus, testLogger())

	created := f.addTask(t, func(task *taskmodels.Task) {
		task.Description = "build"
	})
	require.Equal(t, taskmodels.StatusUnassigned, created.Status)

	// The pool has one task; only the lead hears about it.
	result, err := f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerPoolTasksAvailable, result.Trigger.Type)
	assert.Equal(t, 1, result.Trigger.PoolCount)

	_, err = f.tasks.OfferTask(ctx, created.ID, "worker-1")
	require.NoError(t, err)

	// The worker's poll claims the offer into reviewing.
	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskOffered, result.Trigger.Type)
	assert.Equal(t, created.ID, result.Trigger.Task.ID)
	assert.Equal(t, taskmodels.StatusReviewing, result.Trigger.Task.Status)

	accepted, err := f.tasks.AcceptTask(ctx, created.ID, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, accepted)
	assert.Equal(t, taskmodels.StatusPending, accepted.Status)
	assert.Equal(t, "worker-1", accepted.AgentID)
	require.NotNil(t, accepted.AcceptedAt)

	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerTaskAssigned, result.Trigger.Type)
	assert.Equal(t, created.ID, result.Trigger.Task.ID)

	_, err = f.tasks.StartTask(ctx, created.ID)
	require.NoError(t, err)
	agent, err := registry.GetAgent(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, agentmodels.StatusBusy, agent.Status)

	done, err := f.tasks.CompleteTask(ctx, created.ID, "ok")
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, "ok", done.Output)
	agent, err = registry.GetAgent(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, agentmodels.StatusIdle, agent.Status)

	// The completion surfaces to the lead once, then goes quiet.
	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerWorkerTaskFinished, result.Trigger.Type)
	require.Len(t, result.Trigger.Tasks, 1)
	assert.Equal(t, created.ID, result.Trigger.Tasks[0].ID)

	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	assert.Nil(t, result.Trigger)

	// A consumer that lost the trigger re-arms it; delivery is
	// at-least-once, not exactly-once.
	require.NoError(t, f.tasks.ResetNotified(ctx, []string{created.ID}))
	result, err = f.svc.Poll(ctx, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, TriggerWorkerTaskFinished, result.Trigger.Type)
}

// A dependency chain dispatches in order: the blocked task is withheld
// until its dependency completes, and polling makes no forward progress
// on its own.
func TestScenarioDependencyChain(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	first := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusPending
		task.AgentID = "worker-1"
	})
	second := f.addTask(t, func(task *taskmodels.Task) {
		task.Status = taskmodels.StatusPending
		task.AgentID = "worker-1"
		task.DependsOn = []string{first.ID}
	})

	result, err := f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, first.ID, result.Trigger.Task.ID)

	// Polling again without completing anything re-delivers the same task.
	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, first.ID, result.Trigger.Task.ID)

	_, err = f.tasks.CompleteTask(ctx, first.ID, "done")
	require.NoError(t, err)

	result, err = f.svc.Poll(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, result.Trigger)
	assert.Equal(t, second.ID, result.Trigger.Task.ID)
}

// Two leads race to claim the same pool task; exactly one wins and the
// task ends up bound to the winner.
func TestScenarioClaimRace(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "lead-1", "queen", true)
	f.addAgent(t, "lead-2", "king", true)
	ctx := context.Background()

	task := f.addTask(t, nil)

	results := make([]*taskmodels.Task, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, claimer := range []string{"lead-1", "lead-2"} {
		wg.Add(1)
		go func(i int, claimer string) {
			defer wg.Done()
			results[i], errs[i] = f.tasks.ClaimTask(ctx, task.ID, claimer)
		}(i, claimer)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var winner *taskmodels.Task
	for _, claimed := range results {
		if claimed == nil {
			continue
		}
		require.Nil(t, winner, "both claimers won the same task")
		winner = claimed
	}
	require.NotNil(t, winner, "nobody claimed the task")

	stored, err := f.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskmodels.StatusPending, stored.Status)
	assert.Equal(t, winner.AgentID, stored.AgentID)
}

// A claimed mention channel stays locked against re-claim until the lead
// releases it.
func TestScenarioMentionClaimCycle(t *testing.T) {
	f := newPollFixture(t, "")
	f.addAgent(t, "lead-1", "queen", true)
	f.addAgent(t, "worker-1", "ada", false)
	ctx := context.Background()

	err := f.msgs.PostMessage(ctx, &messagingmodels.Message{
		ChannelID: messagingmodels.DefaultChannelID,
		AuthorID:  "worker-1",
		Content:   "@queen blocked on credentials",
		Mentions:  []string{"lead-1"},
	})
	require.NoError(t, err)

	claimed, err := f.msgs.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, messagingmodels.DefaultChannelID, claimed[0].ChannelID)

	// The advisory lock holds until release.
	again, err := f.msgs.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	assert.Empty(t, again)

	err = f.msgs.ReleaseMentionProcessing(ctx, "lead-1", []string{messagingmodels.DefaultChannelID})
	require.NoError(t, err)

	reclaimed, err := f.msgs.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, reclaimed, 1, "unread mentions remain claimable after release")
}
