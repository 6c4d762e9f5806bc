// Package repository defines the channel and inbox storage interface.
package repository

import (
	"context"
	"time"

	"github.com/agentswarm/agentswarm/internal/messaging/models"
)

// Repository defines the interface for channel and inbox persistence.
type Repository interface {
	// Channels
	CreateChannel(ctx context.Context, channel *models.Channel) error
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]*models.Channel, error)

	// Messages
	PostMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, channelID string, limit, offset int) ([]*models.Message, int, error)
	ListThread(ctx context.Context, threadID string) ([]*models.Message, error)
	UnreadMentionMessages(ctx context.Context, agentID, channelID string) ([]*models.Message, error)

	// Mention claim protocol. ClaimMentions returns only the channels whose
	// advisory lock was actually won; a channel already held is skipped.
	UnreadMentions(ctx context.Context, agentID string) ([]*models.ClaimedChannel, error)
	ClaimMentions(ctx context.Context, agentID string) ([]*models.ClaimedChannel, error)
	ReleaseMentionProcessing(ctx context.Context, agentID string, channelIDs []string) error
	ReleaseStaleMentionProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	MarkChannelRead(ctx context.Context, agentID, channelID string) error
	GetReadState(ctx context.Context, agentID, channelID string) (*models.ReadState, error)

	// Inbox
	CreateInboxMessage(ctx context.Context, msg *models.InboxMessage) error
	GetInboxMessage(ctx context.Context, id string) (*models.InboxMessage, error)
	ListInboxMessages(ctx context.Context, agentID string, status models.InboxStatus) ([]*models.InboxMessage, error)
	CountUnreadInbox(ctx context.Context, agentID string) (int, error)
	ClaimInboxMessages(ctx context.Context, agentID string, limit int) ([]*models.InboxMessage, error)
	SetInboxStatus(ctx context.Context, id string, status models.InboxStatus, outcome models.InboxOutcome) (*models.InboxMessage, error)
	ReleaseStaleInboxProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}
