// Package dto defines the request and response shapes for the channel and
// inbox API.
package dto

import "github.com/agentswarm/agentswarm/internal/messaging/models"

// CreateChannelRequest is the request body for creating a channel.
type CreateChannelRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	EpicID      string `json:"epicId"`
}

// PostMessageRequest is the request body for posting a channel message.
// The author falls back to the X-Agent-ID header when omitted.
type PostMessageRequest struct {
	Content  string   `json:"content" binding:"required"`
	AuthorID string   `json:"authorId"`
	Mentions []string `json:"mentions"`
	ThreadID string   `json:"threadId"`
}

// ReleaseMentionsRequest names the channels whose advisory lock to drop.
type ReleaseMentionsRequest struct {
	ChannelIDs []string `json:"channelIds" binding:"required"`
}

// CreateInboxRequest is the request body for a direct inbox message.
type CreateInboxRequest struct {
	AgentID          string `json:"agentId" binding:"required"`
	Source           string `json:"source"`
	SenderName       string `json:"senderName"`
	ExternalThreadID string `json:"externalThreadId"`
	Content          string `json:"content" binding:"required"`
}

// ClaimInboxRequest optionally narrows the claim batch size.
type ClaimInboxRequest struct {
	Limit int `json:"limit"`
}

// InboxStatusRequest is the request body for an inbox status transition.
// ResponseText belongs to responded, DelegatedToTaskID to delegated.
type InboxStatusRequest struct {
	Status            string `json:"status" binding:"required"`
	ResponseText      string `json:"responseText"`
	DelegatedToTaskID string `json:"delegatedToTaskId"`
}

// ChannelsResponse is the list envelope for channels.
type ChannelsResponse struct {
	Channels []*models.Channel `json:"channels"`
}

// MessagesResponse is the list envelope for channel messages.
type MessagesResponse struct {
	Messages []*models.Message `json:"messages"`
	Total    int               `json:"total"`
}

// MentionsResponse is the list envelope for unread or claimed channels.
type MentionsResponse struct {
	Channels []*models.ClaimedChannel `json:"channels"`
}

// InboxResponse is the list envelope for inbox messages.
type InboxResponse struct {
	Messages []*models.InboxMessage `json:"messages"`
}
