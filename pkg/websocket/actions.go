package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Subscription actions (client -> server)
	ActionAgentSubscribe   = "agent.subscribe"
	ActionAgentUnsubscribe = "agent.unsubscribe"

	// Notification actions (server -> client). These mirror the kernel bus
	// event types one to one so dashboard code can share the names.
	ActionTaskCreated       = "task.created"
	ActionTaskUpdated       = "task.updated"
	ActionTaskStatusChanged = "task.status_changed"
	ActionTaskOffered       = "task.offered"
	ActionTaskProgress      = "task.progress"

	ActionAgentRegistered    = "agent.registered"
	ActionAgentStatusChanged = "agent.status_changed"
	ActionAgentClosed        = "agent.closed"
	ActionAgentProfileEdited = "agent.profile_edited"

	ActionChannelCreated  = "channel.created"
	ActionMessagePosted   = "channel.message_posted"
	ActionInboxReceived   = "inbox.received"
	ActionInboxStatusSet  = "inbox.status_changed"
	ActionMentionsClaimed = "channel.mentions_claimed"

	ActionEpicCreated       = "epic.created"
	ActionEpicStatusChanged = "epic.status_changed"
	ActionEpicProgress      = "epic.progress"

	ActionScheduleCreated  = "schedule.created"
	ActionScheduleUpdated  = "schedule.updated"
	ActionScheduleFired    = "schedule.fired"
	ActionScheduleDisabled = "schedule.disabled"

	ActionSessionStarted = "session.started"
	ActionSessionEnded   = "session.ended"

	ActionTriggerDelivered = "poll.trigger_delivered"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeForbidden     = "FORBIDDEN"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
