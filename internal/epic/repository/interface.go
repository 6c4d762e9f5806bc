// Package repository defines the epic storage interface.
package repository

import (
	"context"

	"github.com/agentswarm/agentswarm/internal/epic/models"
)

// Repository defines the interface for epic persistence.
type Repository interface {
	CreateEpic(ctx context.Context, epic *models.Epic) error
	GetEpic(ctx context.Context, id string) (*models.Epic, error)
	GetEpicByName(ctx context.Context, name string) (*models.Epic, error)
	ListEpics(ctx context.Context, status models.EpicStatus) ([]*models.Epic, error)
	UpdateEpicStatus(ctx context.Context, id string, status models.EpicStatus) (*models.Epic, error)

	GetProgress(ctx context.Context, epicID string) (*models.Progress, error)
	GetEpicsWithProgressUpdates(ctx context.Context) ([]*models.Epic, error)
	MarkEpicsProgressNotified(ctx context.Context, epicIDs []string) error
}
