// Package dto defines request and response payloads for the session API.
package dto

import "github.com/agentswarm/agentswarm/internal/session/models"

// StartSessionRequest is the payload for registering a running session.
type StartSessionRequest struct {
	AgentID         string `json:"agentId"`
	TaskID          string `json:"taskId"`
	TriggerType     string `json:"triggerType"`
	InboxMessageID  string `json:"inboxMessageId"`
	TaskDescription string `json:"taskDescription"`
}

// HeartbeatRequest bumps the session heartbeat for a task.
type HeartbeatRequest struct {
	TaskID string `json:"taskId" binding:"required"`
}

// EndSessionRequest ends a session by id or by task.
type EndSessionRequest struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
}

// SessionCostRequest is the payload for reporting one iteration's usage.
type SessionCostRequest struct {
	AgentID             string  `json:"agentId"`
	TaskID              string  `json:"taskId"`
	SessionID           string  `json:"sessionId"`
	Model               string  `json:"model"`
	InputTokens         int64   `json:"inputTokens"`
	OutputTokens        int64   `json:"outputTokens"`
	CacheReadTokens     int64   `json:"cacheReadTokens"`
	CacheCreationTokens int64   `json:"cacheCreationTokens"`
	TotalCostUSD        float64 `json:"totalCostUsd"`
	DurationMs          int64   `json:"durationMs"`
	NumTurns            int     `json:"numTurns"`
}

// SessionLogRequest is the payload for appending a worker output line.
type SessionLogRequest struct {
	AgentID   string `json:"agentId"`
	TaskID    string `json:"taskId"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content" binding:"required"`
}

// SessionsResponse wraps a session list.
type SessionsResponse struct {
	Sessions []*models.ActiveSession `json:"sessions"`
}

// CostsResponse wraps a cost-record list.
type CostsResponse struct {
	Costs []*models.SessionCost `json:"costs"`
}

// LogsResponse wraps a log-line list.
type LogsResponse struct {
	Logs []*models.SessionLog `json:"logs"`
}
