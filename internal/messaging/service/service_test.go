package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "github.com/agentswarm/agentswarm/internal/agent/models"
	agentsqlite "github.com/agentswarm/agentswarm/internal/agent/repository/sqlite"
	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/db"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	"github.com/agentswarm/agentswarm/internal/messaging/models"
	msgsqlite "github.com/agentswarm/agentswarm/internal/messaging/repository/sqlite"
	"github.com/agentswarm/agentswarm/internal/store"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	taskservice "github.com/agentswarm/agentswarm/internal/task/service"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

// stubTaskCreator records synthesis requests instead of writing tasks.
type stubTaskCreator struct {
	requests []*taskservice.CreateTaskRequest
	fail     bool
}

func (s *stubTaskCreator) CreateTask(_ context.Context, req *taskservice.CreateTaskRequest) (*taskmodels.Task, error) {
	if s.fail {
		return nil, errors.New("creator offline")
	}
	s.requests = append(s.requests, req)
	return &taskmodels.Task{ID: uuid.NewString(), Description: req.Task, AgentID: req.AgentID}, nil
}

type msgServiceFixture struct {
	pool    *db.Pool
	svc     *Service
	repo    *msgsqlite.Repository
	agents  *agentsqlite.Repository
	creator *stubTaskCreator
	bus     bus.EventBus
}

func newMsgServiceFixture(t *testing.T) *msgServiceFixture {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	_, err = agentlog.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	agents, err := agentsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	repo, err := msgsqlite.NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)

	creator := &stubTaskCreator{}
	eventBus := bus.NewMemoryEventBus(testLogger())
	t.Cleanup(eventBus.Close)

	return &msgServiceFixture{
		pool:    pool,
		svc:     NewService(repo, agents, creator, eventBus, testLogger()),
		repo:    repo,
		agents:  agents,
		creator: creator,
		bus:     eventBus,
	}
}

func (f *msgServiceFixture) addAgent(t *testing.T, id, name string) {
	t.Helper()
	err := f.agents.CreateAgent(context.Background(), &agentmodels.Agent{ID: id, Name: name})
	require.NoError(t, err)
}

func (f *msgServiceFixture) capture(t *testing.T, eventType string) *[]string {
	t.Helper()
	var published []string
	_, err := f.bus.Subscribe(eventType, func(_ context.Context, event *bus.Event) error {
		published = append(published, event.Type)
		return nil
	})
	require.NoError(t, err)
	return &published
}

func TestCreateChannelService(t *testing.T) {
	f := newMsgServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateChannel(ctx, &CreateChannelRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrEmptyChannelName)

	published := f.capture(t, events.ChannelCreated)
	channel, err := f.svc.CreateChannel(ctx, &CreateChannelRequest{Name: "  design  ", Description: "Design talk"})
	require.NoError(t, err)
	assert.Equal(t, "design", channel.Name, "name is trimmed before storage")
	assert.Equal(t, []string{events.ChannelCreated}, *published)
}

func TestPostMessageValidation(t *testing.T) {
	f := newMsgServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PostMessage(ctx, &PostMessageRequest{ChannelID: models.DefaultChannelID, Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = f.svc.PostMessage(ctx, &PostMessageRequest{ChannelID: "missing", Content: "hello"})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestMentionResolution(t *testing.T) {
	f := newMsgServiceFixture(t)
	f.addAgent(t, "lead-1", "queen")
	f.addAgent(t, "worker-1", "ada")
	ctx := context.Background()

	result, err := f.svc.PostMessage(ctx, &PostMessageRequest{
		ChannelID: models.DefaultChannelID,
		AuthorID:  "worker-2",
		Content:   "@queen and @ada and @ghost should plan this",
		Mentions:  []string{"worker-1"},
	})
	require.NoError(t, err)
	// Explicit IDs come first, resolved names follow in order of appearance,
	// duplicates collapse and unknown names drop out.
	assert.Equal(t, []string{"worker-1", "lead-1"}, result.Message.Mentions)
	assert.Empty(t, result.Tasks)
}

func TestTaskCommandSynthesis(t *testing.T) {
	f := newMsgServiceFixture(t)
	f.addAgent(t, "lead-1", "queen")
	f.addAgent(t, "worker-1", "ada")
	ctx := context.Background()

	channel, err := f.svc.CreateChannel(ctx, &CreateChannelRequest{Name: "release", EpicID: "epic-9"})
	require.NoError(t, err)

	t.Run("one task per mentioned agent", func(t *testing.T) {
		result, err := f.svc.PostMessage(ctx, &PostMessageRequest{
			ChannelID: channel.ID,
			AuthorID:  "lead-1",
			Content:   "/task investigate the flaky integration suite @ada",
		})
		require.NoError(t, err)
		require.Len(t, result.Tasks, 1)

		require.Len(t, f.creator.requests, 1)
		req := f.creator.requests[0]
		assert.Equal(t, "investigate the flaky integration suite @ada", req.Task)
		assert.Equal(t, "worker-1", req.AgentID)
		assert.Equal(t, "lead-1", req.CreatorAgentID)
		assert.Equal(t, taskmodels.SourceAPI, req.Source)
		assert.Equal(t, "epic-9", req.EpicID)
		assert.Equal(t, channel.ID, req.MentionChannelID)
		assert.Equal(t, result.Message.ID, req.MentionMessageID)
	})

	t.Run("no mentions means no tasks", func(t *testing.T) {
		result, err := f.svc.PostMessage(ctx, &PostMessageRequest{
			ChannelID: channel.ID,
			AuthorID:  "lead-1",
			Content:   "/task tidy the backlog",
		})
		require.NoError(t, err)
		assert.Empty(t, result.Tasks)
	})

	t.Run("empty body means no tasks", func(t *testing.T) {
		result, err := f.svc.PostMessage(ctx, &PostMessageRequest{
			ChannelID: channel.ID,
			AuthorID:  "lead-1",
			Content:   "/task",
			Mentions:  []string{"worker-1"},
		})
		require.NoError(t, err)
		assert.Empty(t, result.Tasks)
	})

	t.Run("creator failure does not lose the message", func(t *testing.T) {
		f.creator.fail = true
		defer func() { f.creator.fail = false }()

		result, err := f.svc.PostMessage(ctx, &PostMessageRequest{
			ChannelID: channel.ID,
			AuthorID:  "lead-1",
			Content:   "/task retry the deploy @ada",
		})
		require.NoError(t, err)
		assert.Empty(t, result.Tasks)

		got, err := f.svc.GetMessage(ctx, result.Message.ID)
		require.NoError(t, err)
		assert.Equal(t, "/task retry the deploy @ada", got.Content)
	})
}

func TestThreadMentionInheritance(t *testing.T) {
	f := newMsgServiceFixture(t)
	f.addAgent(t, "lead-1", "queen")
	f.addAgent(t, "worker-1", "ada")
	ctx := context.Background()

	parent, err := f.svc.PostMessage(ctx, &PostMessageRequest{
		ChannelID: models.DefaultChannelID,
		AuthorID:  "worker-2",
		Content:   "@queen kicking off the migration",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"lead-1"}, parent.Message.Mentions)

	t.Run("reply inherits parent mentions for notification only", func(t *testing.T) {
		result, err := f.svc.PostMessage(ctx, &PostMessageRequest{
			ChannelID: models.DefaultChannelID,
			AuthorID:  "worker-2",
			Content:   "/task follow up on the failed step",
			ThreadID:  parent.Message.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"lead-1"}, result.Message.Mentions)
		assert.Empty(t, result.Tasks, "inherited mentions never synthesise tasks")
	})

	t.Run("reply with its own mentions does not inherit", func(t *testing.T) {
		result, err := f.svc.PostMessage(ctx, &PostMessageRequest{
			ChannelID: models.DefaultChannelID,
			AuthorID:  "worker-2",
			Content:   "@ada can you take a look",
			ThreadID:  parent.Message.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"worker-1"}, result.Message.Mentions)
	})
}

func TestListMessagesChecksChannel(t *testing.T) {
	f := newMsgServiceFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.ListMessages(ctx, "missing", 0, 0)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))

	err = f.svc.MarkChannelRead(ctx, "lead-1", "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestInboxService(t *testing.T) {
	f := newMsgServiceFixture(t)
	f.addAgent(t, "worker-1", "ada")
	ctx := context.Background()

	_, err := f.svc.CreateInboxMessage(ctx, &InboxRequest{AgentID: "worker-1", Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = f.svc.CreateInboxMessage(ctx, &InboxRequest{AgentID: "ghost", Content: "hello"})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))

	received := f.capture(t, events.InboxReceived)
	msg, err := f.svc.CreateInboxMessage(ctx, &InboxRequest{AgentID: "worker-1", Content: "deploy window tonight"})
	require.NoError(t, err)
	assert.Equal(t, models.InboxUnread, msg.Status)
	assert.Equal(t, "api", msg.Source)
	assert.Equal(t, []string{events.InboxReceived}, *received)

	_, err = f.svc.ListInboxMessages(ctx, "worker-1", models.InboxStatus("archived"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown inbox status")

	statusSet := f.capture(t, events.InboxStatusSet)
	_, err = f.svc.SetInboxStatus(ctx, msg.ID, models.InboxStatus("archived"), models.InboxOutcome{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown inbox status")

	updated, err := f.svc.SetInboxStatus(ctx, msg.ID, models.InboxRead, models.InboxOutcome{})
	require.NoError(t, err)
	assert.Equal(t, models.InboxRead, updated.Status)
	assert.Equal(t, []string{events.InboxStatusSet}, *statusSet)
}

func TestClaimInboxClampsLimit(t *testing.T) {
	f := newMsgServiceFixture(t)
	f.addAgent(t, "worker-1", "ada")
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := f.svc.CreateInboxMessage(ctx, &InboxRequest{AgentID: "worker-1", Content: "note"})
		require.NoError(t, err)
	}

	claimed, err := f.svc.ClaimInboxMessages(ctx, "worker-1", 0)
	require.NoError(t, err)
	assert.Len(t, claimed, 5, "non-positive limit falls back to the default batch")

	claimed, err = f.svc.ClaimInboxMessages(ctx, "worker-1", 99)
	require.NoError(t, err)
	assert.Len(t, claimed, 2, "oversized limit is clamped, leaving only the remainder")
}

func TestReleaseStaleClaims(t *testing.T) {
	f := newMsgServiceFixture(t)
	f.addAgent(t, "lead-1", "queen")
	ctx := context.Background()

	_, err := f.svc.PostMessage(ctx, &PostMessageRequest{
		ChannelID: models.DefaultChannelID,
		AuthorID:  "worker-2",
		Content:   "@queen are you there",
	})
	require.NoError(t, err)
	claimed, err := f.svc.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = f.svc.CreateInboxMessage(ctx, &InboxRequest{AgentID: "lead-1", Content: "ping"})
	require.NoError(t, err)
	inbox, err := f.svc.ClaimInboxMessages(ctx, "lead-1", 1)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	// Both claims belong to a worker that died an hour ago.
	stale := time.Now().UTC().Add(-time.Hour)
	_, err = f.pool.Writer().Exec(`UPDATE channel_read_states SET processing_since = ?`, stale)
	require.NoError(t, err)
	_, err = f.pool.Writer().Exec(`UPDATE inbox_messages SET processing_since = ?`, stale)
	require.NoError(t, err)

	f.svc.ReleaseStaleClaims(ctx)

	claimed, err = f.svc.ClaimMentions(ctx, "lead-1")
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
	count, err := f.svc.CountUnreadInbox(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
