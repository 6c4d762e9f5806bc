package dto

// CreateTaskRequest is the POST /api/tasks body. Exactly one of the routing
// fields (offeredTo, agentId, backlog) decides the initial status; none of
// them means the task lands in the unassigned pool.
type CreateTaskRequest struct {
	Task           string   `json:"task" binding:"required"`
	AgentID        string   `json:"agentId"`
	CreatorAgentID string   `json:"creatorAgentId"`
	OfferedTo      string   `json:"offeredTo"`
	Backlog        bool     `json:"backlog"`
	Source         string   `json:"source"`
	TaskType       string   `json:"taskType"`
	Tags           []string `json:"tags"`
	Priority       int      `json:"priority"`
	DependsOn      []string `json:"dependsOn"`
	EpicID         string   `json:"epicId"`
	ParentTaskID   string   `json:"parentTaskId"`

	SlackChannel      string `json:"slackChannel"`
	SlackTs           string `json:"slackTs"`
	GithubRepo        string `json:"githubRepo"`
	GithubIssueNumber int    `json:"githubIssueNumber"`
	AgentmailThreadID string `json:"agentmailThreadId"`
	MentionMessageID  string `json:"mentionMessageId"`
	MentionChannelID  string `json:"mentionChannelId"`
}

// AgentActionRequest names the acting agent for claim/offer/accept. The
// X-Agent-ID header is used when the body omits it.
type AgentActionRequest struct {
	AgentID string `json:"agentId"`
}

type RejectTaskRequest struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
}

type CompleteTaskRequest struct {
	Output string `json:"output"`
}

type FailTaskRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CancelTaskRequest struct {
	Reason string `json:"reason"`
}

type ProgressRequest struct {
	Progress string `json:"progress" binding:"required"`
}

type ClaudeSessionRequest struct {
	ClaudeSessionID string `json:"claudeSessionId" binding:"required"`
}

type ResetNotifiedRequest struct {
	TaskIDs []string `json:"taskIds" binding:"required"`
}
