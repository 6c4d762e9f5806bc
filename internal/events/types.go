// Package events provides event types and utilities for the swarmd event system.
package events

// Event types for tasks
const (
	TaskCreated       = "task.created"
	TaskUpdated       = "task.updated"
	TaskStatusChanged = "task.status_changed"
	TaskOffered       = "task.offered"
	TaskProgress      = "task.progress"
)

// Event types for agents
const (
	AgentRegistered    = "agent.registered"
	AgentStatusChanged = "agent.status_changed"
	AgentClosed        = "agent.closed"
	AgentProfileEdited = "agent.profile_edited"
)

// Event types for channels and inbox
const (
	ChannelCreated  = "channel.created"
	MessagePosted   = "channel.message_posted"
	InboxReceived   = "inbox.received"
	InboxStatusSet  = "inbox.status_changed"
	MentionsClaimed = "channel.mentions_claimed"
)

// Event types for epics
const (
	EpicCreated       = "epic.created"
	EpicStatusChanged = "epic.status_changed"
	EpicProgress      = "epic.progress"
)

// Event types for schedules
const (
	ScheduleCreated  = "schedule.created"
	ScheduleUpdated  = "schedule.updated"
	ScheduleFired    = "schedule.fired"
	ScheduleDisabled = "schedule.disabled"
)

// Event types for active sessions
const (
	SessionStarted = "session.started"
	SessionEnded   = "session.ended"
)

// Event types for the poll dispatcher
const (
	TriggerDelivered = "poll.trigger_delivered"
)

// BuildTaskSubject creates a task event subject scoped to a specific task.
func BuildTaskSubject(eventType, taskID string) string {
	return eventType + "." + taskID
}

// BuildAgentSubject creates an agent event subject scoped to a specific agent.
func BuildAgentSubject(eventType, agentID string) string {
	return eventType + "." + agentID
}

// BuildChannelSubject creates a channel event subject scoped to a specific channel.
func BuildChannelSubject(eventType, channelID string) string {
	return eventType + "." + channelID
}

// BuildWildcardSubject creates a wildcard subscription for all events of a type.
func BuildWildcardSubject(eventType string) string {
	return eventType + ".*"
}
