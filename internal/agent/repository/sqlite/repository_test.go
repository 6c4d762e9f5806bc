package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/db"
	"github.com/agentswarm/agentswarm/internal/store"
)

type agentFixture struct {
	repo  *Repository
	audit *agentlog.Repository
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	audit, err := agentlog.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	repo, err := NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	return &agentFixture{repo: repo, audit: audit}
}

func strPtr(s string) *string { return &s }

func TestCreateAndGetAgent(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{
		Name:         "ada",
		Role:         "backend engineer",
		Capabilities: []string{"go", "sql"},
	}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, models.StatusIdle, agent.Status)
	assert.Equal(t, 1, agent.MaxTasks, "capacity defaults to one task")

	got, err := f.repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Name)
	assert.Equal(t, "backend engineer", got.Role)
	assert.Equal(t, []string{"go", "sql"}, got.Capabilities)

	byName, err := f.repo.GetAgentByName(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byName.ID)

	_, err = f.repo.GetAgent(ctx, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestCreateAgentDuplicateName(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repo.CreateAgent(ctx, &models.Agent{Name: "ada"}))
	err := f.repo.CreateAgent(ctx, &models.Agent{Name: "ada"})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
}

func TestListAgentsOrdered(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	for _, name := range []string{"zed", "ada", "lin"} {
		require.NoError(t, f.repo.CreateAgent(ctx, &models.Agent{Name: name}))
	}

	agents, err := f.repo.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "ada", agents[0].Name)
	assert.Equal(t, "lin", agents[1].Name)
	assert.Equal(t, "zed", agents[2].Name)
}

func TestHeartbeatRevivesOffline(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "ada"}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))
	require.NoError(t, f.repo.CloseAgent(ctx, agent.ID))

	require.NoError(t, f.repo.Heartbeat(ctx, agent.ID))
	got, err := f.repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, got.Status)

	// A busy agent stays busy through heartbeats.
	require.NoError(t, f.repo.SetStatus(ctx, agent.ID, models.StatusBusy))
	require.NoError(t, f.repo.Heartbeat(ctx, agent.ID))
	got, err = f.repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBusy, got.Status)

	err = f.repo.Heartbeat(ctx, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestSetStatusAuditsChanges(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "ada"}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))

	require.NoError(t, f.repo.SetStatus(ctx, agent.ID, models.StatusBusy))
	// Same-status writes are no-ops and leave no audit entry.
	require.NoError(t, f.repo.SetStatus(ctx, agent.ID, models.StatusBusy))

	changes, err := f.audit.List(ctx, agentlog.ListFilter{
		AgentID:   agent.ID,
		EventType: agentlog.EventAgentStatusChange,
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, string(models.StatusIdle), changes[0].OldValue)
	assert.Equal(t, string(models.StatusBusy), changes[0].NewValue)

	err = f.repo.SetStatus(ctx, "missing", models.StatusBusy)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestCloseAndRevive(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "ada"}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))
	_, err := f.repo.IncrementEmptyPolls(ctx, agent.ID)
	require.NoError(t, err)

	require.NoError(t, f.repo.CloseAgent(ctx, agent.ID))
	got, err := f.repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, got.Status)

	require.NoError(t, f.repo.ReviveAgent(ctx, agent.ID))
	got, err = f.repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, got.Status)
	assert.Equal(t, 0, got.EmptyPollCount, "revival clears the poll counter")
}

func TestEmptyPollCounter(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "ada"}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))

	count, err := f.repo.IncrementEmptyPolls(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = f.repo.IncrementEmptyPolls(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, f.repo.ResetEmptyPolls(ctx, agent.ID))
	got, err := f.repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.EmptyPollCount)

	_, err = f.repo.IncrementEmptyPolls(ctx, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestUpdateProfileVersionChain(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "ada"}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))

	updated, versions, err := f.repo.UpdateProfile(ctx, agent.ID, &models.ProfileUpdate{
		Role:     strPtr("reviewer"),
		SoulMd:   strPtr("be kind"),
		ClaudeMd: strPtr("prefer small diffs"),
	})
	require.NoError(t, err)
	assert.Equal(t, "reviewer", updated.Role)
	assert.Equal(t, "be kind", updated.SoulMd)
	require.Len(t, versions, 2)
	for _, v := range versions {
		assert.Equal(t, 1, v.Version)
		assert.Empty(t, v.PreviousVersionID)
		assert.Equal(t, "api", v.ChangeSource)
		assert.NotEmpty(t, v.ContentHash)
	}

	// Identical content appends nothing.
	_, versions, err = f.repo.UpdateProfile(ctx, agent.ID, &models.ProfileUpdate{
		SoulMd: strPtr("be kind"),
	})
	require.NoError(t, err)
	assert.Empty(t, versions)

	// Changed content chains a second version to the first.
	v1, err := f.repo.GetLatestContextVersion(ctx, agent.ID, models.FieldSoulMd)
	require.NoError(t, err)
	_, versions, err = f.repo.UpdateProfile(ctx, agent.ID, &models.ProfileUpdate{
		SoulMd:           strPtr("be kind, but direct"),
		ChangeSource:     "register",
		ChangedByAgentID: "agent-lead",
		ChangeReason:     "soften the tone for support work",
	})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, v1.ID, versions[0].PreviousVersionID)
	assert.Equal(t, "register", versions[0].ChangeSource)
	assert.Equal(t, "agent-lead", versions[0].ChangedByAgentID)
	assert.Equal(t, "soften the tone for support work", versions[0].ChangeReason)

	// Attribution survives the round trip through the store.
	v2, err := f.repo.GetLatestContextVersion(ctx, agent.ID, models.FieldSoulMd)
	require.NoError(t, err)
	assert.Equal(t, "agent-lead", v2.ChangedByAgentID)
	assert.Equal(t, "soften the tone for support work", v2.ChangeReason)

	got, err := f.repo.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "be kind, but direct", got.SoulMd)

	_, _, err = f.repo.UpdateProfile(ctx, "missing", &models.ProfileUpdate{Role: strPtr("x")})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestListContextVersions(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "ada"}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))

	for _, content := range []string{"v1", "v2"} {
		_, _, err := f.repo.UpdateProfile(ctx, agent.ID, &models.ProfileUpdate{SoulMd: strPtr(content)})
		require.NoError(t, err)
	}
	_, _, err := f.repo.UpdateProfile(ctx, agent.ID, &models.ProfileUpdate{ClaudeMd: strPtr("rules")})
	require.NoError(t, err)

	all, err := f.repo.ListContextVersions(ctx, agent.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Ordered by field, then newest version first within a field.
	assert.Equal(t, models.FieldClaudeMd, all[0].Field)
	assert.Equal(t, models.FieldSoulMd, all[1].Field)
	assert.Equal(t, 2, all[1].Version)
	assert.Equal(t, 1, all[2].Version)

	soul, err := f.repo.ListContextVersions(ctx, agent.ID, models.FieldSoulMd)
	require.NoError(t, err)
	require.Len(t, soul, 2)
	assert.Equal(t, "v2", soul[0].Content)

	latest, err := f.repo.GetLatestContextVersion(ctx, agent.ID, models.FieldSoulMd)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	_, err = f.repo.GetLatestContextVersion(ctx, agent.ID, models.FieldToolsMd)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestDeleteAgentCascadesVersions(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "ada"}
	require.NoError(t, f.repo.CreateAgent(ctx, agent))
	_, _, err := f.repo.UpdateProfile(ctx, agent.ID, &models.ProfileUpdate{SoulMd: strPtr("be kind")})
	require.NoError(t, err)

	require.NoError(t, f.repo.DeleteAgent(ctx, agent.ID))

	_, err = f.repo.GetAgent(ctx, agent.ID)
	require.Error(t, err)

	versions, err := f.repo.ListContextVersions(ctx, agent.ID, "")
	require.NoError(t, err)
	assert.Empty(t, versions, "context versions go with the agent")

	err = f.repo.DeleteAgent(ctx, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}
