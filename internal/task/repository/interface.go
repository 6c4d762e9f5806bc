package repository

import (
	"context"
	"time"

	"github.com/agentswarm/agentswarm/internal/task/models"
)

// Repository defines the interface for task storage operations.
type Repository interface {
	// CRUD and read models
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter models.ListFilter) ([]*models.Task, int, error)
	AttachClaudeSession(ctx context.Context, taskID, sessionID string) error
	CountForAgentByStatus(ctx context.Context, agentID string, status models.TaskStatus) (int, error)
	CountUnassigned(ctx context.Context) (int, error)
	CountActiveTasks(ctx context.Context, agentID string) (int, error)
	CountActiveByAgent(ctx context.Context) (map[string]int, error)

	// Lifecycle transitions. A nil task with a nil error means the guarding
	// precondition did not hold (another claimant won, or the state moved on).
	ClaimTask(ctx context.Context, taskID, agentID string) (*models.Task, error)
	OfferTask(ctx context.Context, taskID, agentID string) (*models.Task, error)
	ClaimOffered(ctx context.Context, taskID, agentID string) (*models.Task, error)
	AcceptTask(ctx context.Context, taskID, agentID string) (*models.Task, error)
	RejectTask(ctx context.Context, taskID, agentID, reason string) (*models.Task, error)
	StartTask(ctx context.Context, taskID string) (*models.Task, error)
	PauseTask(ctx context.Context, taskID string) (*models.Task, error)
	ResumeTask(ctx context.Context, taskID string) (*models.Task, error)
	CompleteTask(ctx context.Context, taskID, output string) (*models.Task, error)
	FailTask(ctx context.Context, taskID, reason string) (*models.Task, error)
	CancelTask(ctx context.Context, taskID, reason string) (*models.Task, error)
	SetProgress(ctx context.Context, taskID, progress string) (*models.Task, error)
	MoveToPool(ctx context.Context, taskID string) (*models.Task, error)
	MoveToBacklog(ctx context.Context, taskID string) (*models.Task, error)

	// Notification bookkeeping
	MarkNotified(ctx context.Context, taskIDs []string) error
	ResetNotified(ctx context.Context, taskIDs []string) error

	// Poll selections
	GetPendingTaskForAgent(ctx context.Context, agentID string) (*models.Task, error)
	CheckDependencies(ctx context.Context, taskID string) (*models.DependencyStatus, error)
	ListRecentlyCancelled(ctx context.Context, agentID string, since time.Time) ([]*models.Task, error)
	ListOfferedToAgent(ctx context.Context, agentID string) ([]*models.Task, error)
	ListPausedForAgent(ctx context.Context, agentID string) ([]*models.Task, error)
	ListFinishedWorkerTasks(ctx context.Context) ([]*models.Task, error)

	// Stale-state sweeps
	ReleaseStaleReviewingTasks(ctx context.Context, cutoff time.Time) (int64, error)
	ReleaseStalePausedTasks(ctx context.Context, cutoff time.Time) (int64, error)
}
