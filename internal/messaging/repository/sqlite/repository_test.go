package sqlite

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
	"github.com/agentswarm/agentswarm/internal/db"
	"github.com/agentswarm/agentswarm/internal/messaging/models"
	"github.com/agentswarm/agentswarm/internal/store"
)

type msgFixture struct {
	pool   *db.Pool
	repo   *Repository
	agents *agentsqlite.Repository
}

func newMsgFixture(t *testing.T) *msgFixture {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	_, err = agentlog.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	agents, err := agentsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	repo, err := NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	return &msgFixture{pool: pool, repo: repo, agents: agents}
}

func (f *msgFixture) addAgent(t *testing.T, id, name string) {
	t.Helper()
	err := f.agents.CreateAgent(context.Background(), &agentmodels.Agent{ID: id, Name: name})
	require.NoError(t, err)
}

func (f *msgFixture) post(t *testing.T, channelID, authorID, content string, mentions ...string) *models.Message {
	t.Helper()
	msg := &models.Message{ChannelID: channelID, AuthorID: authorID, Content: content, Mentions: mentions}
	require.NoError(t, f.repo.PostMessage(context.Background(), msg))
	return msg
}

func TestDefaultChannelSeeded(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	general, err := f.repo.GetChannelByName(ctx, models.DefaultChannelName)
	require.NoError(t, err)
	assert.Equal(t, "channel-general", general.ID, "seed id is part of the API surface")

	// A second schema init must not duplicate the seed.
	_, err = NewWithDB(f.pool.Writer(), f.pool.Reader())
	require.NoError(t, err)
	channels, err := f.repo.ListChannels(ctx)
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestCreateChannel(t *testing.T) {
	f := newMsgFixture(t)
	f.addAgent(t, "lead-1", "queen")
	ctx := context.Background()

	channel := &models.Channel{Name: "design", Description: "Design talk", CreatedBy: "lead-1"}
	require.NoError(t, f.repo.CreateChannel(ctx, channel))
	assert.NotEmpty(t, channel.ID)

	got, err := f.repo.GetChannel(ctx, channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "design", got.Name)
	assert.Equal(t, "lead-1", got.CreatedBy)

	err = f.repo.CreateChannel(ctx, &models.Channel{Name: "design"})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))

	_, err = f.repo.GetChannel(ctx, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestPostAndListMessages(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		f.post(t, models.DefaultChannelID, "worker-1", content)
	}

	messages, total, err := f.repo.ListMessages(ctx, models.DefaultChannelID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content, "messages read oldest first")
	assert.Equal(t, "third", messages[2].Content)

	page, total, err := f.repo.ListMessages(ctx, models.DefaultChannelID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "second", page[0].Content)
}

func TestListThread(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	parent := f.post(t, models.DefaultChannelID, "worker-1", "shall we split this up?")
	reply := &models.Message{
		ChannelID: models.DefaultChannelID,
		AuthorID:  "worker-2",
		Content:   "yes, three parts",
		ThreadID:  parent.ID,
	}
	require.NoError(t, f.repo.PostMessage(ctx, reply))

	thread, err := f.repo.ListThread(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "yes, three parts", thread[0].Content)
	assert.Equal(t, parent.ID, thread[0].ThreadID)

	// Thread replies still show in the channel feed.
	_, total, err := f.repo.ListMessages(ctx, models.DefaultChannelID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestUnreadMentionCounts(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repo.CreateChannel(ctx, &models.Channel{Name: "alpha"}))
	alpha, err := f.repo.GetChannelByName(ctx, "alpha")
	require.NoError(t, err)

	f.post(t, models.DefaultChannelID, "worker-2", "@queen look", "lead-1")
	f.post(t, models.DefaultChannelID, "worker-2", "@queen again", "lead-1")
	f.post(t, alpha.ID, "worker-2", "@queen here too", "lead-1")
	f.post(t, alpha.ID, "worker-2", "no mention")

	unread, err := f.repo.UnreadMentions(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, unread, 2)
	// Channels come back in name order.
	assert.Equal(t, "alpha", unread[0].ChannelName)
	assert.Equal(t, 1, unread[0].Count)
	assert.Equal(t, models.DefaultChannelName, unread[1].ChannelName)
	assert.Equal(t, 2, unread[1].Count)

	require.NoError(t, f.repo.MarkChannelRead(ctx, "lead-1", models.DefaultChannelID))
	unread, err = f.repo.UnreadMentions(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "alpha", unread[0].ChannelName)

	// A new mention after the watermark counts again.
	f.post(t, models.DefaultChannelID, "worker-2", "@queen news", "lead-1")
	unread, err = f.repo.UnreadMentions(ctx, "lead-1")
	require.NoError(t, err)
	assert.Len(t, unread, 2)
}

func TestUnreadMentionMessages(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	f.post(t, models.DefaultChannelID, "worker-2", "@queen first", "lead-1")
	require.NoError(t, f.repo.MarkChannelRead(ctx, "lead-1", models.DefaultChannelID))
	f.post(t, models.DefaultChannelID, "worker-2", "@queen second", "lead-1")
	f.post(t, models.DefaultChannelID, "worker-2", "@ada other", "worker-1")

	messages, err := f.repo.UnreadMentionMessages(ctx, "lead-1", models.DefaultChannelID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "@queen second", messages[0].Content)
}

func TestClaimMentionsLock(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	f.post(t, models.DefaultChannelID, "worker-2", "@queen look", "lead-1")

	claimed, err := f.repo.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, models.DefaultChannelID, claimed[0].ChannelID)
	assert.Equal(t, 1, claimed[0].Count)

	// A second claim finds the channel locked and wins nothing.
	claimed, err = f.repo.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	assert.Empty(t, claimed)

	state, err := f.repo.GetReadState(ctx, "lead-1", models.DefaultChannelID)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.NotNil(t, state.ProcessingSince)

	// Releasing without reading leaves the mentions unread, so the claim
	// can be retried.
	require.NoError(t, f.repo.ReleaseMentionProcessing(ctx, "lead-1", []string{models.DefaultChannelID}))
	claimed, err = f.repo.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestReleaseStaleMentionProcessing(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	f.post(t, models.DefaultChannelID, "worker-2", "@queen look", "lead-1")
	_, err := f.repo.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)

	// The claimant died; age the lock past the timeout.
	_, err = f.pool.Writer().Exec(`UPDATE channel_read_states SET processing_since = ?`,
		time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	released, err := f.repo.ReleaseStaleMentionProcessing(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	claimed, err := f.repo.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestInboxCreateAndList(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	first := &models.InboxMessage{AgentID: "lead-1", Content: "deploy window tonight"}
	require.NoError(t, f.repo.CreateInboxMessage(ctx, first))
	assert.Equal(t, models.InboxUnread, first.Status)
	assert.Equal(t, "api", first.Source)

	second := &models.InboxMessage{
		AgentID:          "lead-1",
		Source:           "slack",
		SenderName:       "grace",
		ExternalThreadID: "1724680000.000100",
		Content:          "standup moved",
	}
	require.NoError(t, f.repo.CreateInboxMessage(ctx, second))
	require.NoError(t, f.repo.CreateInboxMessage(ctx, &models.InboxMessage{AgentID: "worker-1", Content: "other inbox"}))

	got, err := f.repo.GetInboxMessage(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy window tonight", got.Content)
	assert.Empty(t, got.SenderName)

	got, err = f.repo.GetInboxMessage(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace", got.SenderName)
	assert.Equal(t, "1724680000.000100", got.ExternalThreadID)

	messages, err := f.repo.ListInboxMessages(ctx, "lead-1", "")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, second.ID, messages[0].ID, "inbox reads newest first")

	count, err := f.repo.CountUnreadInbox(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = f.repo.GetInboxMessage(ctx, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestClaimInboxMessages(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 7; i++ {
		msg := &models.InboxMessage{AgentID: "lead-1", Content: "note"}
		require.NoError(t, f.repo.CreateInboxMessage(ctx, msg))
		ids = append(ids, msg.ID)
		time.Sleep(time.Millisecond)
	}

	claimed, err := f.repo.ClaimInboxMessages(ctx, "lead-1", 5)
	require.NoError(t, err)
	require.Len(t, claimed, 5)
	for i, msg := range claimed {
		assert.Equal(t, ids[i], msg.ID, "claims take the oldest messages first")
		assert.Equal(t, models.InboxProcessing, msg.Status)
		require.NotNil(t, msg.ProcessingSince)
	}

	count, err := f.repo.CountUnreadInbox(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	claimed, err = f.repo.ClaimInboxMessages(ctx, "lead-1", 5)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	claimed, err = f.repo.ClaimInboxMessages(ctx, "lead-1", 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestSetInboxStatus(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	newMessage := func(t *testing.T) *models.InboxMessage {
		msg := &models.InboxMessage{AgentID: "lead-1", Content: "note"}
		require.NoError(t, f.repo.CreateInboxMessage(ctx, msg))
		return msg
	}

	t.Run("claim and respond", func(t *testing.T) {
		msg := newMessage(t)
		updated, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxProcessing, models.InboxOutcome{})
		require.NoError(t, err)
		assert.Equal(t, models.InboxProcessing, updated.Status)
		require.NotNil(t, updated.ProcessingSince)

		updated, err = f.repo.SetInboxStatus(ctx, msg.ID, models.InboxResponded,
			models.InboxOutcome{ResponseText: "on it, shipping tonight"})
		require.NoError(t, err)
		assert.Equal(t, models.InboxResponded, updated.Status)
		assert.Nil(t, updated.ProcessingSince)
		assert.Equal(t, "on it, shipping tonight", updated.ResponseText)

		stored, err := f.repo.GetInboxMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "on it, shipping tonight", stored.ResponseText)
	})

	t.Run("delegate records the task", func(t *testing.T) {
		msg := newMessage(t)
		_, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxProcessing, models.InboxOutcome{})
		require.NoError(t, err)
		updated, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxDelegated,
			models.InboxOutcome{DelegatedToTaskID: "task-77"})
		require.NoError(t, err)
		assert.Equal(t, models.InboxDelegated, updated.Status)
		assert.Equal(t, "task-77", updated.DelegatedToTaskID)

		stored, err := f.repo.GetInboxMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "task-77", stored.DelegatedToTaskID)
	})

	t.Run("outcome belongs to its terminal state", func(t *testing.T) {
		msg := newMessage(t)
		_, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxProcessing, models.InboxOutcome{})
		require.NoError(t, err)
		_, err = f.repo.SetInboxStatus(ctx, msg.ID, models.InboxRead,
			models.InboxOutcome{ResponseText: "stray payload"})
		require.Error(t, err)
		_, err = f.repo.SetInboxStatus(ctx, msg.ID, models.InboxResponded,
			models.InboxOutcome{DelegatedToTaskID: "task-1"})
		require.Error(t, err)
	})

	t.Run("release back to unread", func(t *testing.T) {
		msg := newMessage(t)
		_, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxProcessing, models.InboxOutcome{})
		require.NoError(t, err)
		updated, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxUnread, models.InboxOutcome{})
		require.NoError(t, err)
		assert.Equal(t, models.InboxUnread, updated.Status)
		assert.Nil(t, updated.ProcessingSince)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		msg := newMessage(t)
		_, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxRead, models.InboxOutcome{})
		require.NoError(t, err)
		_, err = f.repo.SetInboxStatus(ctx, msg.ID, models.InboxProcessing, models.InboxOutcome{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid inbox transition")
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		msg := newMessage(t)
		updated, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxUnread, models.InboxOutcome{})
		require.NoError(t, err)
		assert.Equal(t, models.InboxUnread, updated.Status)
	})

	t.Run("unknown status", func(t *testing.T) {
		msg := newMessage(t)
		_, err := f.repo.SetInboxStatus(ctx, msg.ID, models.InboxStatus("archived"), models.InboxOutcome{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown inbox status")
	})

	t.Run("missing message", func(t *testing.T) {
		_, err := f.repo.SetInboxStatus(ctx, "missing", models.InboxRead, models.InboxOutcome{})
		require.Error(t, err)
		assert.True(t, store.IsNotFound(err))
	})
}

func TestReleaseStaleInboxProcessing(t *testing.T) {
	f := newMsgFixture(t)
	ctx := context.Background()

	msg := &models.InboxMessage{AgentID: "lead-1", Content: "note"}
	require.NoError(t, f.repo.CreateInboxMessage(ctx, msg))
	_, err := f.repo.ClaimInboxMessages(ctx, "lead-1", 5)
	require.NoError(t, err)

	_, err = f.pool.Writer().Exec(`UPDATE inbox_messages SET processing_since = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), msg.ID)
	require.NoError(t, err)

	released, err := f.repo.ReleaseStaleInboxProcessing(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	got, err := f.repo.GetInboxMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InboxUnread, got.Status)
	assert.Nil(t, got.ProcessingSince)
}
