package sqlite

import (
	"context"

	"github.com/agentswarm/agentswarm/internal/session/models"
)

// SwarmStats aggregates the kernel-wide counters behind the stats endpoint.
// Separate scalar subqueries avoid row multiplication from JOINs.
func (r *Repository) SwarmStats(ctx context.Context) (*models.SwarmStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM agents) as total_agents,
			(SELECT COUNT(*) FROM agents WHERE status = 'idle') as idle_agents,
			(SELECT COUNT(*) FROM agents WHERE status = 'busy') as busy_agents,
			(SELECT COUNT(*) FROM agents WHERE status = 'offline') as offline_agents,
			(SELECT COUNT(*) FROM agent_tasks) as total_tasks,
			(SELECT COUNT(*) FROM agent_tasks WHERE status = 'unassigned') as unassigned_tasks,
			(SELECT COUNT(*) FROM agent_tasks WHERE status = 'pending') as pending_tasks,
			(SELECT COUNT(*) FROM agent_tasks WHERE status = 'in_progress') as in_progress_tasks,
			(SELECT COUNT(*) FROM agent_tasks WHERE status = 'completed') as completed_tasks,
			(SELECT COUNT(*) FROM agent_tasks WHERE status = 'failed') as failed_tasks,
			(SELECT COUNT(*) FROM active_sessions) as active_sessions,
			(SELECT COALESCE(SUM(total_cost_usd), 0) FROM session_costs) as total_cost_usd
	`
	var stats models.SwarmStats
	err := r.ro.QueryRowContext(ctx, query).Scan(
		&stats.TotalAgents, &stats.IdleAgents, &stats.BusyAgents, &stats.OfflineAgents,
		&stats.TotalTasks, &stats.UnassignedTasks, &stats.PendingTasks,
		&stats.InProgressTasks, &stats.CompletedTasks, &stats.FailedTasks,
		&stats.ActiveSessions, &stats.TotalCostUSD)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
