// Package models defines active sessions and the cost/log records workers
// report back after each iteration.
package models

import "time"

// ActiveSession is one running worker iteration. Rows live only while the
// worker is executing; the worker heartbeats them and deletes them on exit,
// and a periodic sweep removes rows whose heartbeat went silent.
type ActiveSession struct {
	ID              string    `db:"id" json:"id"`
	AgentID         string    `db:"agent_id" json:"agentId"`
	TaskID          string    `db:"task_id" json:"taskId,omitempty"`
	TriggerType     string    `db:"trigger_type" json:"triggerType"`
	InboxMessageID  string    `db:"inbox_message_id" json:"inboxMessageId,omitempty"`
	TaskDescription string    `db:"task_description" json:"taskDescription,omitempty"`
	StartedAt       time.Time `db:"started_at" json:"startedAt"`
	LastHeartbeatAt time.Time `db:"last_heartbeat_at" json:"lastHeartbeatAt"`
}

// SessionCost is the token and dollar usage of one finished worker
// iteration, reported by the worker and stored verbatim.
type SessionCost struct {
	ID                  string    `db:"id" json:"id"`
	AgentID             string    `db:"agent_id" json:"agentId"`
	TaskID              string    `db:"task_id" json:"taskId,omitempty"`
	SessionID           string    `db:"session_id" json:"sessionId,omitempty"`
	Model               string    `db:"model" json:"model,omitempty"`
	InputTokens         int64     `db:"input_tokens" json:"inputTokens"`
	OutputTokens        int64     `db:"output_tokens" json:"outputTokens"`
	CacheReadTokens     int64     `db:"cache_read_tokens" json:"cacheReadTokens"`
	CacheCreationTokens int64     `db:"cache_creation_tokens" json:"cacheCreationTokens"`
	TotalCostUSD        float64   `db:"total_cost_usd" json:"totalCostUsd"`
	DurationMs          int64     `db:"duration_ms" json:"durationMs"`
	NumTurns            int       `db:"num_turns" json:"numTurns"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
}

// SessionLog is one appended output line from a worker iteration.
type SessionLog struct {
	ID        string    `db:"id" json:"id"`
	AgentID   string    `db:"agent_id" json:"agentId"`
	TaskID    string    `db:"task_id" json:"taskId,omitempty"`
	SessionID string    `db:"session_id" json:"sessionId,omitempty"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// CostFilter narrows session-cost listings.
type CostFilter struct {
	AgentID string
	TaskID  string
	Since   *time.Time
}

// CostSummary aggregates session costs across the swarm.
type CostSummary struct {
	TotalSessions       int64   `json:"totalSessions"`
	TotalInputTokens    int64   `json:"totalInputTokens"`
	TotalOutputTokens   int64   `json:"totalOutputTokens"`
	TotalCacheRead      int64   `json:"totalCacheReadTokens"`
	TotalCacheCreation  int64   `json:"totalCacheCreationTokens"`
	TotalCostUSD        float64 `json:"totalCostUsd"`
	TotalDurationMs     int64   `json:"totalDurationMs"`
	TotalTurns          int64   `json:"totalTurns"`
	AvgCostPerSession   float64 `json:"avgCostPerSession"`
	AvgTurnsPerSession  float64 `json:"avgTurnsPerSession"`
	AvgDurationPerRunMs int64   `json:"avgDurationPerRunMs"`
}

// AgentCostUsage is the per-agent dashboard row.
type AgentCostUsage struct {
	AgentID      string  `json:"agentId"`
	AgentName    string  `json:"agentName"`
	SessionCount int64   `json:"sessionCount"`
	TotalTokens  int64   `json:"totalTokens"`
	TotalCostUSD float64 `json:"totalCostUsd"`
	TotalTurns   int64   `json:"totalTurns"`
	LastActiveAt *string `json:"lastActiveAt,omitempty"`
}

// CostDashboard is the payload behind the cost dashboard endpoint.
type CostDashboard struct {
	Summary CostSummary       `json:"summary"`
	Agents  []*AgentCostUsage `json:"agents"`
}

// SwarmStats is the kernel-wide read model behind the stats endpoint.
type SwarmStats struct {
	TotalAgents     int64   `json:"totalAgents"`
	IdleAgents      int64   `json:"idleAgents"`
	BusyAgents      int64   `json:"busyAgents"`
	OfflineAgents   int64   `json:"offlineAgents"`
	TotalTasks      int64   `json:"totalTasks"`
	UnassignedTasks int64   `json:"unassignedTasks"`
	PendingTasks    int64   `json:"pendingTasks"`
	InProgressTasks int64   `json:"inProgressTasks"`
	CompletedTasks  int64   `json:"completedTasks"`
	FailedTasks     int64   `json:"failedTasks"`
	ActiveSessions  int64   `json:"activeSessions"`
	TotalCostUSD    float64 `json:"totalCostUsd"`
}
