package agentlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/agentswarm/internal/db"
)

func openTestRepo(t *testing.T) (*db.Pool, *Repository) {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	repo, err := NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	return pool, repo
}

func TestListFilters(t *testing.T) {
	pool, repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{EventType: EventTaskCreated, TaskID: "task-1", AgentID: "lead-1", CreatedAt: base},
		{EventType: EventTaskStatusChange, TaskID: "task-1", AgentID: "worker-1", OldValue: "pending", NewValue: "in_progress", CreatedAt: base.Add(time.Minute)},
		{EventType: EventTaskStatusChange, TaskID: "task-2", AgentID: "worker-1", CreatedAt: base.Add(2 * time.Minute)},
		{EventType: EventAgentRegistered, AgentID: "worker-2", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, Insert(ctx, pool.Writer(), e))
	}

	all, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, EventAgentRegistered, all[0].EventType, "entries read newest first")
	assert.Equal(t, EventTaskCreated, all[3].EventType)

	byTask, err := repo.List(ctx, ListFilter{TaskID: "task-1"})
	require.NoError(t, err)
	require.Len(t, byTask, 2)
	assert.Equal(t, "in_progress", byTask[0].NewValue)

	byAgent, err := repo.List(ctx, ListFilter{AgentID: "worker-1"})
	require.NoError(t, err)
	assert.Len(t, byAgent, 2)

	byEvent, err := repo.List(ctx, ListFilter{EventType: EventTaskStatusChange, TaskID: "task-2"})
	require.NoError(t, err)
	assert.Len(t, byEvent, 1)

	limited, err := repo.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMetadataRoundTrip(t *testing.T) {
	pool, repo := openTestRepo(t)
	ctx := context.Background()

	Append(ctx, pool.Writer(), &Entry{
		EventType: EventScheduleFired,
		TaskID:    "task-9",
		Metadata:  map[string]string{"schedule_id": "sched-1", "manual": "true"},
	})

	entries, err := repo.List(ctx, ListFilter{TaskID: "task-9"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sched-1", entries[0].Metadata["schedule_id"])
	assert.Equal(t, "true", entries[0].Metadata["manual"])
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestCountByEventType(t *testing.T) {
	pool, repo := openTestRepo(t)
	ctx := context.Background()

	for _, taskID := range []string{"task-1", "task-1", "task-2"} {
		require.NoError(t, Insert(ctx, pool.Writer(), &Entry{EventType: EventTaskProgress, TaskID: taskID}))
	}
	require.NoError(t, Insert(ctx, pool.Writer(), &Entry{EventType: EventTaskCreated, TaskID: "task-1"}))

	count, err := repo.CountByEventType(ctx, EventTaskProgress, "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountByEventType(ctx, EventTaskProgress, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.CountByEventType(ctx, "never_happened", "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAppendNeverFails(t *testing.T) {
	pool, _ := openTestRepo(t)
	ctx := context.Background()

	_, err := pool.Writer().Exec(`DROP TABLE agent_logs`)
	require.NoError(t, err)

	// The write error is logged and discarded; callers keep going.
	Append(ctx, pool.Writer(), &Entry{EventType: EventTaskCreated, TaskID: "task-1"})

	assert.Error(t, Insert(ctx, pool.Writer(), &Entry{EventType: EventTaskCreated}))
}
