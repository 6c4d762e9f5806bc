// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Kernel tunables.
const (
	// MaxEmptyPolls is the number of consecutive empty polls after which an
	// agent is reported as blocked and expected to back off.
	MaxEmptyPolls = 2

	// MaxPersonaFieldSize caps each persona document (claudeMd, soulMd,
	// identityMd, setupScript, toolsMd) at 64 KiB.
	MaxPersonaFieldSize = 64 * 1024

	// MaxRoleLength caps the agent role string.
	MaxRoleLength = 100

	// CancelledTriggerWindow is how long after cancellation a task_cancelled
	// trigger is still worth delivering to the owning agent.
	CancelledTriggerWindow = 5 * time.Minute

	// StaleReviewingTimeout is how long an offered task may sit in reviewing
	// before it is released back to offered.
	StaleReviewingTimeout = 30 * time.Minute

	// StaleProcessingTimeout is how long a mention or inbox claim may be held
	// without completion before the sweep releases it.
	StaleProcessingTimeout = 30 * time.Minute

	// StaleSessionTimeout is how long an active session may go without a
	// heartbeat before cleanup removes it.
	StaleSessionTimeout = 30 * time.Minute

	// InboxClaimLimit is the maximum number of inbox messages claimed per call.
	InboxClaimLimit = 5

	// IdempotencyWindow is how long a task-create idempotency key is
	// remembered for duplicate suppression.
	IdempotencyWindow = time.Hour
)

// Scheduler tunables.
const (
	// SchedulerBackoffBase is the first retry delay after a schedule run fails.
	SchedulerBackoffBase = time.Minute

	// SchedulerBackoffCap bounds the exponential retry delay.
	SchedulerBackoffCap = time.Hour

	// SchedulerMaxConsecutiveErrors auto-disables a schedule once reached.
	SchedulerMaxConsecutiveErrors = 5

	// SchedulerErrorMessageLimit truncates stored schedule error messages.
	SchedulerErrorMessageLimit = 500
)

// Ingress tunables.
const (
	// DedupWindow is how long a webhook delivery id is remembered for
	// duplicate suppression.
	DedupWindow = 60 * time.Second

	// RateLimitWindow is the decay window for per-user chat rate limiting.
	RateLimitWindow = time.Minute

	// RateLimitMaxEvents is the number of chat events allowed per user per window.
	RateLimitMaxEvents = 10
)
