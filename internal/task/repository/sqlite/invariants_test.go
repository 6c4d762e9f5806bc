package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"

	"github.com/agentswarm/agentswarm/internal/task/models"
)

// Property tests for the claim protocol and the lifecycle invariants the
// dispatcher depends on. Each check runs against one shared database;
// iterations are independent because every task gets a fresh id.

const maxClaimers = 8

func addClaimers(t *testing.T, f *taskFixture) []string {
	t.Helper()
	ids := make([]string, maxClaimers)
	for i := range ids {
		ids[i] = fmt.Sprintf("claimer-%d", i)
		f.addAgent(t, ids[i], fmt.Sprintf("claimer %d", i), true)
	}
	return ids
}

// At most one concurrent ClaimOffered call wins; everyone else gets nil.
func TestOfferClaimExclusivity(t *testing.T) {
	f := newTaskFixture(t)
	addClaimers(t, f)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		task := &models.Task{Description: "review me", Status: models.StatusUnassigned}
		require.NoError(t, f.repo.CreateTask(ctx, task))
		_, err := f.repo.OfferTask(ctx, task.ID, "claimer-0")
		require.NoError(t, err)

		callers := rapid.IntRange(2, maxClaimers).Draw(rt, "callers")
		results := make([]*models.Task, callers)
		var group errgroup.Group
		for i := 0; i < callers; i++ {
			i := i
			group.Go(func() error {
				claimed, err := f.repo.ClaimOffered(ctx, task.ID, "claimer-0")
				results[i] = claimed
				return err
			})
		}
		require.NoError(t, group.Wait())

		winners := 0
		for _, claimed := range results {
			if claimed != nil {
				winners++
				require.Equal(t, models.StatusReviewing, claimed.Status)
			}
		}
		require.Equal(t, 1, winners, "exactly one ClaimOffered call may win")

		// The race settled; late callers keep losing.
		late, err := f.repo.ClaimOffered(ctx, task.ID, "claimer-0")
		require.NoError(t, err)
		require.Nil(t, late)
	})
}

// Concurrent pool claims by distinct agents produce exactly one winner,
// and the stored task is bound to that winner.
func TestPoolClaimExclusivity(t *testing.T) {
	f := newTaskFixture(t)
	claimers := addClaimers(t, f)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		task := &models.Task{Description: "up for grabs", Status: models.StatusUnassigned}
		require.NoError(t, f.repo.CreateTask(ctx, task))

		callers := rapid.IntRange(2, maxClaimers).Draw(rt, "callers")
		results := make([]*models.Task, callers)
		var group errgroup.Group
		for i := 0; i < callers; i++ {
			i := i
			group.Go(func() error {
				claimed, err := f.repo.ClaimTask(ctx, task.ID, claimers[i])
				results[i] = claimed
				return err
			})
		}
		require.NoError(t, group.Wait())

		var winner *models.Task
		for _, claimed := range results {
			if claimed == nil {
				continue
			}
			require.Nil(t, winner, "two claimers both won")
			winner = claimed
		}
		require.NotNil(t, winner)

		stored, err := f.repo.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusPending, stored.Status)
		require.Equal(t, winner.AgentID, stored.AgentID)
	})
}

// No lifecycle operation moves a task out of a terminal state or rebinds
// its agent.
func TestTerminalFinality(t *testing.T) {
	f := newTaskFixture(t)
	addClaimers(t, f)
	ctx := context.Background()

	finishers := map[string]func(id string) (*models.Task, error){
		"complete": func(id string) (*models.Task, error) { return f.repo.CompleteTask(ctx, id, "done") },
		"fail":     func(id string) (*models.Task, error) { return f.repo.FailTask(ctx, id, "broke") },
		"cancel":   func(id string) (*models.Task, error) { return f.repo.CancelTask(ctx, id, "moot") },
	}
	mutations := map[string]func(id string) (*models.Task, error){
		"claim":       func(id string) (*models.Task, error) { return f.repo.ClaimTask(ctx, id, "claimer-1") },
		"offer":       func(id string) (*models.Task, error) { return f.repo.OfferTask(ctx, id, "claimer-1") },
		"accept":      func(id string) (*models.Task, error) { return f.repo.AcceptTask(ctx, id, "claimer-1") },
		"start":       func(id string) (*models.Task, error) { return f.repo.StartTask(ctx, id) },
		"pause":       func(id string) (*models.Task, error) { return f.repo.PauseTask(ctx, id) },
		"resume":      func(id string) (*models.Task, error) { return f.repo.ResumeTask(ctx, id) },
		"complete":    func(id string) (*models.Task, error) { return f.repo.CompleteTask(ctx, id, "again") },
		"fail":        func(id string) (*models.Task, error) { return f.repo.FailTask(ctx, id, "again") },
		"cancel":      func(id string) (*models.Task, error) { return f.repo.CancelTask(ctx, id, "again") },
		"setProgress": func(id string) (*models.Task, error) { return f.repo.SetProgress(ctx, id, "50%") },
		"toPool":      func(id string) (*models.Task, error) { return f.repo.MoveToPool(ctx, id) },
		"toBacklog":   func(id string) (*models.Task, error) { return f.repo.MoveToBacklog(ctx, id) },
	}
	mutationNames := make([]string, 0, len(mutations))
	for name := range mutations {
		mutationNames = append(mutationNames, name)
	}

	rapid.Check(t, func(rt *rapid.T) {
		task := &models.Task{
			Description: "short lived",
			Status:      models.StatusInProgress,
			AgentID:     "claimer-0",
		}
		require.NoError(t, f.repo.CreateTask(ctx, task))

		how := rapid.SampledFrom([]string{"complete", "fail", "cancel"}).Draw(rt, "finish")
		finished, err := finishers[how](task.ID)
		require.NoError(t, err)
		require.NotNil(t, finished)
		require.True(t, finished.Status.IsTerminal())
		require.NotNil(t, finished.FinishedAt)

		attempts := rapid.IntRange(1, 6).Draw(rt, "attempts")
		for i := 0; i < attempts; i++ {
			name := rapid.SampledFrom(mutationNames).Draw(rt, fmt.Sprintf("op-%d", i))
			mutated, err := mutations[name](task.ID)
			require.NoError(t, err, "terminal-state %s must be a no-op, not an error", name)
			require.Nil(t, mutated, "%s mutated a terminal task", name)
		}

		stored, err := f.repo.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.Equal(t, finished.Status, stored.Status)
		require.Equal(t, "claimer-0", stored.AgentID)
	})
}

// GetPendingTaskForAgent withholds a task until every declared dependency
// is completed, whatever states the dependencies are in.
func TestDependencyGateProperty(t *testing.T) {
	f := newTaskFixture(t)
	f.addAgent(t, "worker-p4", "gated worker", false)
	ctx := context.Background()

	depStatuses := []models.TaskStatus{
		models.StatusUnassigned, models.StatusPending, models.StatusInProgress,
		models.StatusPaused, models.StatusCompleted, models.StatusFailed,
		models.StatusCancelled,
	}

	rapid.Check(t, func(rt *rapid.T) {
		depCount := rapid.IntRange(1, 5).Draw(rt, "deps")
		depIDs := make([]string, 0, depCount)
		allDone := true
		for i := 0; i < depCount; i++ {
			status := rapid.SampledFrom(depStatuses).Draw(rt, fmt.Sprintf("dep-%d", i))
			dep := &models.Task{Description: "dependency", Status: status}
			if status == models.StatusPending || status == models.StatusInProgress || status == models.StatusPaused {
				dep.AgentID = "claimer-elsewhere"
			}
			require.NoError(t, f.repo.CreateTask(ctx, dep))
			depIDs = append(depIDs, dep.ID)
			if status != models.StatusCompleted {
				allDone = false
			}
		}

		gated := &models.Task{
			Description: "gated",
			Status:      models.StatusPending,
			AgentID:     "worker-p4",
			DependsOn:   depIDs,
		}
		require.NoError(t, f.repo.CreateTask(ctx, gated))

		next, err := f.repo.GetPendingTaskForAgent(ctx, "worker-p4")
		require.NoError(t, err)
		if allDone {
			require.NotNil(t, next)
			require.Equal(t, gated.ID, next.ID)
		} else if next != nil {
			require.NotEqual(t, gated.ID, next.ID, "a blocked task was dispatched")
		}

		deps, err := f.repo.CheckDependencies(ctx, gated.ID)
		require.NoError(t, err)
		require.Equal(t, allDone, deps.Ready)

		// Park the task so the next iteration starts from a clean slate.
		_, err = f.repo.CancelTask(ctx, gated.ID, "property teardown")
		require.NoError(t, err)
	})
}
