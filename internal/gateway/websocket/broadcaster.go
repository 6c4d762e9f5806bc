package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
	ws "github.com/agentswarm/agentswarm/pkg/websocket"
)

// EventBroadcaster bridges the kernel bus onto the WebSocket hub. Every
// kernel event type is forwarded as a notification with the same action
// name; events carrying an agent_id are tagged so filtered clients only
// see their agents.
type EventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

func RegisterEventBroadcaster(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.TaskCreated, ws.ActionTaskCreated)
	b.subscribe(eventBus, events.TaskUpdated, ws.ActionTaskUpdated)
	b.subscribe(eventBus, events.TaskStatusChanged, ws.ActionTaskStatusChanged)
	b.subscribe(eventBus, events.TaskOffered, ws.ActionTaskOffered)
	b.subscribe(eventBus, events.TaskProgress, ws.ActionTaskProgress)
	b.subscribe(eventBus, events.AgentRegistered, ws.ActionAgentRegistered)
	b.subscribe(eventBus, events.AgentStatusChanged, ws.ActionAgentStatusChanged)
	b.subscribe(eventBus, events.AgentClosed, ws.ActionAgentClosed)
	b.subscribe(eventBus, events.AgentProfileEdited, ws.ActionAgentProfileEdited)
	b.subscribe(eventBus, events.ChannelCreated, ws.ActionChannelCreated)
	b.subscribe(eventBus, events.MessagePosted, ws.ActionMessagePosted)
	b.subscribe(eventBus, events.InboxReceived, ws.ActionInboxReceived)
	b.subscribe(eventBus, events.InboxStatusSet, ws.ActionInboxStatusSet)
	b.subscribe(eventBus, events.MentionsClaimed, ws.ActionMentionsClaimed)
	b.subscribe(eventBus, events.EpicCreated, ws.ActionEpicCreated)
	b.subscribe(eventBus, events.EpicStatusChanged, ws.ActionEpicStatusChanged)
	b.subscribe(eventBus, events.EpicProgress, ws.ActionEpicProgress)
	b.subscribe(eventBus, events.ScheduleCreated, ws.ActionScheduleCreated)
	b.subscribe(eventBus, events.ScheduleUpdated, ws.ActionScheduleUpdated)
	b.subscribe(eventBus, events.ScheduleFired, ws.ActionScheduleFired)
	b.subscribe(eventBus, events.ScheduleDisabled, ws.ActionScheduleDisabled)
	b.subscribe(eventBus, events.SessionStarted, ws.ActionSessionStarted)
	b.subscribe(eventBus, events.SessionEnded, ws.ActionSessionEnded)
	b.subscribe(eventBus, events.TriggerDelivered, ws.ActionTriggerDelivered)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

func (b *EventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *EventBroadcaster) subscribe(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification", zap.String("action", action), zap.Error(err))
			return nil
		}

		agentID, _ := event.Data["agent_id"].(string)
		if agentID != "" {
			b.hub.BroadcastForAgent(agentID, msg)
		} else {
			b.hub.Broadcast(msg)
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}
