// Package dispatch implements the poll endpoint: the single place the
// kernel linearises "what should this agent do next" into at most one
// trigger per poll, evaluated inside one transaction.
package dispatch

import (
	epicmodels "github.com/agentswarm/agentswarm/internal/epic/models"
	messagingmodels "github.com/agentswarm/agentswarm/internal/messaging/models"
	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
)

// TriggerType identifies what kind of work a trigger carries.
type TriggerType string

// Trigger types in precedence order; the first matching source wins.
const (
	TriggerTaskCancelled      TriggerType = "task_cancelled"
	TriggerTaskOffered        TriggerType = "task_offered"
	TriggerTaskAssigned       TriggerType = "task_assigned"
	TriggerTaskPaused         TriggerType = "task_paused"
	TriggerUnreadMentions     TriggerType = "unread_mentions"
	TriggerPoolTasksAvailable TriggerType = "pool_tasks_available"
	TriggerEpicProgress       TriggerType = "epic_progress"
	TriggerWorkerTaskFinished TriggerType = "worker_task_finished"
)

// EpicProgressUpdate pairs an epic with its progress snapshot at delivery
// time.
type EpicProgressUpdate struct {
	Epic     *epicmodels.Epic     `json:"epic"`
	Progress *epicmodels.Progress `json:"progress"`
	Link     string               `json:"link,omitempty"`
}

// Trigger is the poll payload. Exactly the fields relevant to its type are
// set.
type Trigger struct {
	Type         TriggerType                       `json:"type"`
	Task         *taskmodels.Task                  `json:"task,omitempty"`
	Tasks        []*taskmodels.Task                `json:"tasks,omitempty"`
	Channels     []*messagingmodels.ClaimedChannel `json:"channels,omitempty"`
	MentionCount int                               `json:"mentionCount,omitempty"`
	PoolCount    int                               `json:"poolCount,omitempty"`
	Epics        []*EpicProgressUpdate             `json:"epics,omitempty"`
	Link         string                            `json:"link,omitempty"`
}

// PollResult is the poll response body. Trigger renders as null on an empty
// poll; Blocked tells the worker loop to back off.
type PollResult struct {
	Trigger *Trigger `json:"trigger"`
	Blocked bool     `json:"blocked,omitempty"`
}
