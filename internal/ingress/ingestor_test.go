package ingress

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	messagingmodels "github.com/agentswarm/agentswarm/internal/messaging/models"
	messagingservice "github.com/agentswarm/agentswarm/internal/messaging/service"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
	taskservice "github.com/agentswarm/agentswarm/internal/task/service"
)

type mockDirectory struct {
	agents map[string]*agentmodels.Agent
}

func (m *mockDirectory) GetAgentByName(ctx context.Context, name string) (*agentmodels.Agent, error) {
	agent, ok := m.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", name)
	}
	return agent, nil
}

type mockTaskCreator struct {
	requests []*taskservice.CreateTaskRequest
	err      error
}

func (m *mockTaskCreator) CreateTask(ctx context.Context, req *taskservice.CreateTaskRequest) (*taskmodels.Task, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return &taskmodels.Task{ID: "task-1", Description: req.Task, AgentID: req.AgentID, Source: req.Source}, nil
}

type mockInboxWriter struct {
	requests []*messagingservice.InboxRequest
}

func (m *mockInboxWriter) CreateInboxMessage(ctx context.Context, req *messagingservice.InboxRequest) (*messagingmodels.InboxMessage, error) {
	m.requests = append(m.requests, req)
	return &messagingmodels.InboxMessage{ID: "msg-1", AgentID: req.AgentID, Content: req.Content}, nil
}

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

func newTestIngestor() (*Ingestor, *mockDirectory, *mockTaskCreator, *mockInboxWriter) {
	dir := &mockDirectory{agents: map[string]*agentmodels.Agent{
		"lead": {ID: "agent-lead", Name: "lead"},
	}}
	tasks := &mockTaskCreator{}
	inbox := &mockInboxWriter{}
	return NewIngestor(dir, tasks, inbox, testLogger()), dir, tasks, inbox
}

func chatEvent(id string) *Event {
	return &Event{
		Kind:         KindChat,
		EventID:      id,
		SenderKey:    "U123",
		SenderName:   "alice",
		AgentName:    "lead",
		Content:      "hello",
		SlackChannel: "C42",
		SlackTs:      "1710000000.000200",
	}
}

func TestIngestDeliversChatToInbox(t *testing.T) {
	ingestor, _, tasks, inbox := newTestIngestor()

	result, err := ingestor.Ingest(context.Background(), chatEvent("ev-1"))
	require.NoError(t, err)
	require.NotNil(t, result.Inbox)
	assert.Nil(t, result.Task)
	assert.Empty(t, tasks.requests)

	require.Len(t, inbox.requests, 1)
	assert.Equal(t, "agent-lead", inbox.requests[0].AgentID)
	assert.Equal(t, "slack", inbox.requests[0].Source)
	assert.Equal(t, "alice", inbox.requests[0].SenderName)
	assert.Equal(t, "1710000000.000200", inbox.requests[0].ExternalThreadID,
		"the slack thread ts travels with the message for reply threading")
	assert.Contains(t, inbox.requests[0].Content, "alice")
	assert.Contains(t, inbox.requests[0].Content, "hello")
}

func TestIngestTaskCommandCreatesTask(t *testing.T) {
	ingestor, _, tasks, inbox := newTestIngestor()

	event := &Event{
		Kind:              KindGithub,
		EventID:           "delivery-9",
		AgentName:         "lead",
		Content:           "fix the flaky build",
		TaskCommand:       true,
		GithubRepo:        "acme/widgets",
		GithubIssueNumber: 17,
	}
	result, err := ingestor.Ingest(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, result.Task)
	assert.Empty(t, inbox.requests)

	require.Len(t, tasks.requests, 1)
	req := tasks.requests[0]
	assert.Equal(t, "agent-lead", req.AgentID)
	assert.Equal(t, taskmodels.SourceGithub, req.Source)
	assert.Equal(t, "acme/widgets", req.GithubRepo)
	assert.Equal(t, 17, req.GithubIssueNumber)
}

func TestIngestDropsDuplicateDeliveries(t *testing.T) {
	ingestor, _, _, inbox := newTestIngestor()
	ctx := context.Background()

	_, err := ingestor.Ingest(ctx, chatEvent("ev-dup"))
	require.NoError(t, err)

	_, err = ingestor.Ingest(ctx, chatEvent("ev-dup"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, inbox.requests, 1)
}

func TestIngestSameEventIDAcrossKindsIsNotDuplicate(t *testing.T) {
	ingestor, _, _, _ := newTestIngestor()
	ctx := context.Background()

	_, err := ingestor.Ingest(ctx, chatEvent("ev-shared"))
	require.NoError(t, err)

	mail := &Event{
		Kind:         KindMail,
		EventID:      "ev-shared",
		AgentName:    "lead",
		Content:      "re: status",
		MailThreadID: "thread-1",
	}
	_, err = ingestor.Ingest(ctx, mail)
	assert.NoError(t, err)
}

func TestIngestRateLimitsChatSenders(t *testing.T) {
	ingestor, _, _, _ := newTestIngestor()
	ctx := context.Background()

	for n := 0; n < 10; n++ {
		event := chatEvent(fmt.Sprintf("ev-%d", n))
		_, err := ingestor.Ingest(ctx, event)
		require.NoError(t, err)
	}

	_, err := ingestor.Ingest(ctx, chatEvent("ev-over"))
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other senders are unaffected.
	other := chatEvent("ev-other")
	other.SenderKey = "U999"
	_, err = ingestor.Ingest(ctx, other)
	assert.NoError(t, err)
}

func TestIngestRateLimitSkipsNonChatKinds(t *testing.T) {
	ingestor, _, tasks, _ := newTestIngestor()
	ctx := context.Background()

	for n := 0; n < 15; n++ {
		event := &Event{
			Kind:        KindGithub,
			EventID:     fmt.Sprintf("gh-%d", n),
			SenderKey:   "U123",
			AgentName:   "lead",
			Content:     "issue opened",
			TaskCommand: true,
			GithubRepo:  "acme/widgets",
		}
		_, err := ingestor.Ingest(ctx, event)
		require.NoError(t, err)
	}
	assert.Len(t, tasks.requests, 15)
}

func TestIngestUnknownAgent(t *testing.T) {
	ingestor, _, _, _ := newTestIngestor()

	event := chatEvent("ev-nobody")
	event.AgentName = "nobody"
	_, err := ingestor.Ingest(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestIngestValidation(t *testing.T) {
	ingestor, _, _, _ := newTestIngestor()
	ctx := context.Background()

	cases := []struct {
		name  string
		event *Event
	}{
		{"unknown kind", &Event{Kind: "carrier-pigeon", EventID: "e", AgentName: "lead", Content: "x"}},
		{"missing event id", &Event{Kind: KindChat, AgentName: "lead", Content: "x"}},
		{"missing agent name", &Event{Kind: KindChat, EventID: "e", Content: "x"}},
		{"missing content", &Event{Kind: KindChat, EventID: "e", AgentName: "lead"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestor.Ingest(ctx, tc.event)
			assert.Error(t, err)
		})
	}
}

func TestIngestTaskCreatorFailurePropagates(t *testing.T) {
	ingestor, _, tasks, _ := newTestIngestor()
	tasks.err = errors.New("store unavailable: disk full")

	event := chatEvent("ev-fail")
	event.TaskCommand = true
	_, err := ingestor.Ingest(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestTaskSourceMapping(t *testing.T) {
	assert.Equal(t, taskmodels.SourceSlack, (&Event{Kind: KindChat}).TaskSource())
	assert.Equal(t, taskmodels.SourceGithub, (&Event{Kind: KindGithub}).TaskSource())
	assert.Equal(t, taskmodels.SourceAgentMail, (&Event{Kind: KindMail}).TaskSource())
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	// hmac-sha256 of body with key "secret"
	const signed = "sha256=d42142b53efbc7cf5cd20b6e074eb33707e0de3b368f698e6d6f6c824ffb8d37"

	assert.True(t, VerifySignature("secret", body, signed))
	assert.False(t, VerifySignature("secret", body, "sha256=deadbeef"))
	assert.False(t, VerifySignature("wrong", body, signed))
	assert.False(t, VerifySignature("", body, signed))
	assert.False(t, VerifySignature("secret", body, ""))
}
