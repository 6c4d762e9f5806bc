package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	ws "github.com/agentswarm/agentswarm/pkg/websocket"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

// newIdleClient builds a client that is never pumped; its send channel acts
// as the observable outbox.
func newIdleClient(id string, hub *Hub) *Client {
	return NewClient(id, nil, hub, testLogger())
}

func TestClientWantsFullStreamByDefault(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), testLogger())
	client := newIdleClient("c1", hub)

	assert.True(t, client.wants(""))
	assert.True(t, client.wants("agent-1"))
}

func TestClientWantsFiltersByAgent(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), testLogger())
	client := newIdleClient("c1", hub)
	hub.clients[client] = true

	hub.SubscribeToAgent(client, "agent-1")

	assert.True(t, client.wants("agent-1"))
	assert.False(t, client.wants("agent-2"))
	// Swarm-global events always pass the filter.
	assert.True(t, client.wants(""))

	hub.UnsubscribeFromAgent(client, "agent-1")
	assert.True(t, client.wants("agent-2"))
}

func TestBroadcastFiltering(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), testLogger())

	all := newIdleClient("all", hub)
	filtered := newIdleClient("filtered", hub)
	hub.clients[all] = true
	hub.clients[filtered] = true
	hub.SubscribeToAgent(filtered, "agent-1")

	msg, err := ws.NewNotification(ws.ActionTaskCreated, map[string]interface{}{"task_id": "t1"})
	require.NoError(t, err)

	hub.broadcastMessage(outbound{agentID: "agent-2", msg: msg})
	assert.Len(t, all.send, 1)
	assert.Len(t, filtered.send, 0)

	hub.broadcastMessage(outbound{agentID: "agent-1", msg: msg})
	assert.Len(t, all.send, 2)
	assert.Len(t, filtered.send, 1)

	hub.broadcastMessage(outbound{msg: msg})
	assert.Len(t, all.send, 3)
	assert.Len(t, filtered.send, 2)
}

func TestRemoveClientClearsSubscriptions(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), testLogger())
	client := newIdleClient("c1", hub)
	hub.clients[client] = true
	hub.SubscribeToAgent(client, "agent-1")
	require.Len(t, hub.agentSubscribers["agent-1"], 1)

	hub.removeClient(client)

	assert.Empty(t, hub.agentSubscribers)
	assert.Zero(t, hub.GetClientCount())
}

func TestBroadcasterForwardsBusEvents(t *testing.T) {
	log := testLogger()
	hub := NewHub(ws.NewDispatcher(), log)
	client := newIdleClient("c1", hub)
	hub.clients[client] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()
	RegisterEventBroadcaster(ctx, eventBus, hub, log)

	event := bus.NewEvent(events.TaskStatusChanged, "test", map[string]interface{}{
		"task_id":  "t1",
		"agent_id": "agent-1",
		"status":   "in_progress",
	})
	require.NoError(t, eventBus.Publish(ctx, events.TaskStatusChanged, event))

	var raw []byte
	require.Eventually(t, func() bool {
		select {
		case raw = <-client.send:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	var msg ws.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, ws.MessageTypeNotification, msg.Type)
	assert.Equal(t, ws.ActionTaskStatusChanged, msg.Action)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "t1", payload["task_id"])
}
