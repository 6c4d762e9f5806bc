// Package repository defines the session storage contract.
package repository

import (
	"context"
	"time"

	"github.com/agentswarm/agentswarm/internal/session/models"
)

// Repository persists active sessions and reported session costs/logs.
type Repository interface {
	// Active sessions
	StartSession(ctx context.Context, s *models.ActiveSession) error
	GetSession(ctx context.Context, id string) (*models.ActiveSession, error)
	HeartbeatByTask(ctx context.Context, taskID string) error
	EndSession(ctx context.Context, id string) error
	EndSessionByTask(ctx context.Context, taskID string) error
	CleanupStale(ctx context.Context, cutoff time.Time) (int64, error)
	ListSessions(ctx context.Context, agentID string) ([]*models.ActiveSession, error)

	// Costs and logs
	CreateSessionCost(ctx context.Context, c *models.SessionCost) error
	ListSessionCosts(ctx context.Context, filter models.CostFilter) ([]*models.SessionCost, error)
	CostSummary(ctx context.Context) (*models.CostSummary, error)
	CostDashboard(ctx context.Context) (*models.CostDashboard, error)
	CreateSessionLog(ctx context.Context, l *models.SessionLog) error
	ListSessionLogs(ctx context.Context, taskID, sessionID string) ([]*models.SessionLog, error)

	// Read models
	SwarmStats(ctx context.Context) (*models.SwarmStats, error)
}
