package repository

import (
	"context"

	"github.com/agentswarm/agentswarm/internal/agent/models"
)

// Repository defines the interface for agent registry storage.
type Repository interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	Heartbeat(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status models.AgentStatus) error
	CloseAgent(ctx context.Context, id string) error
	ReviveAgent(ctx context.Context, id string) error
	IncrementEmptyPolls(ctx context.Context, id string) (int, error)
	ResetEmptyPolls(ctx context.Context, id string) error
	DeleteAgent(ctx context.Context, id string) error

	UpdateProfile(ctx context.Context, agentID string, update *models.ProfileUpdate) (*models.Agent, []*models.ContextVersion, error)
	ListContextVersions(ctx context.Context, agentID, field string) ([]*models.ContextVersion, error)
	GetLatestContextVersion(ctx context.Context, agentID, field string) (*models.ContextVersion, error)
}
