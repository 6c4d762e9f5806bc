// Package models defines the task lifecycle domain types.
package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	// StatusBacklog holds deferred work, invisible to polling and claiming.
	StatusBacklog TaskStatus = "backlog"
	// StatusUnassigned is the claimable pool.
	StatusUnassigned TaskStatus = "unassigned"
	// StatusOffered is directed at a single agent, awaiting review.
	StatusOffered TaskStatus = "offered"
	// StatusReviewing means the offered agent pulled the offer and is deciding.
	StatusReviewing TaskStatus = "reviewing"
	// StatusPending is assigned, not yet started.
	StatusPending TaskStatus = "pending"
	// StatusInProgress is actively being worked.
	StatusInProgress TaskStatus = "in_progress"
	// StatusPaused is suspended with agent binding preserved.
	StatusPaused TaskStatus = "paused"

	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusBacklog, StatusUnassigned, StatusOffered, StatusReviewing,
		StatusPending, StatusInProgress, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskSource identifies the ingress path that created a task.
type TaskSource string

const (
	SourceMCP       TaskSource = "mcp"
	SourceSlack     TaskSource = "slack"
	SourceAPI       TaskSource = "api"
	SourceGithub    TaskSource = "github"
	SourceAgentMail TaskSource = "agentmail"
	SourceScheduler TaskSource = "scheduler"
)

// Task is one unit of work routed through the kernel.
type Task struct {
	ID             string     `json:"id"`
	AgentID        string     `json:"agentId,omitempty"`
	CreatorAgentID string     `json:"creatorAgentId,omitempty"`
	Description    string     `json:"task"`
	Status         TaskStatus `json:"status"`
	Source         TaskSource `json:"source"`
	TaskType       string     `json:"taskType,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Priority       int        `json:"priority"`
	DependsOn      []string   `json:"dependsOn,omitempty"`

	// Offer protocol bookkeeping. OfferedTo and OfferedAt survive acceptance
	// as an audit trail; rejection clears them.
	OfferedTo       string     `json:"offeredTo,omitempty"`
	OfferedAt       *time.Time `json:"offeredAt,omitempty"`
	AcceptedAt      *time.Time `json:"acceptedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`

	// Ingress correlation fields, set by the adapter that created the task.
	SlackChannel      string `json:"slackChannel,omitempty"`
	SlackTs           string `json:"slackTs,omitempty"`
	GithubRepo        string `json:"githubRepo,omitempty"`
	GithubIssueNumber int    `json:"githubIssueNumber,omitempty"`
	AgentmailThreadID string `json:"agentmailThreadId,omitempty"`
	MentionMessageID  string `json:"mentionMessageId,omitempty"`
	MentionChannelID  string `json:"mentionChannelId,omitempty"`

	EpicID          string `json:"epicId,omitempty"`
	ParentTaskID    string `json:"parentTaskId,omitempty"`
	ClaudeSessionID string `json:"claudeSessionId,omitempty"`

	Progress      string `json:"progress,omitempty"`
	Output        string `json:"output,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	CreatedAt     time.Time  `json:"createdAt"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	NotifiedAt    *time.Time `json:"notifiedAt,omitempty"`
}

// DependencyStatus reports whether a task's dependencies allow it to start.
type DependencyStatus struct {
	Ready     bool     `json:"ready"`
	BlockedBy []string `json:"blockedBy,omitempty"`
}

// ListFilter narrows ListTasks results. Zero values mean no filtering.
type ListFilter struct {
	Status  TaskStatus
	AgentID string
	EpicID  string
	Source  TaskSource
	Tag     string
	Limit   int
	Offset  int
}
