// Package service implements agent registration, capacity derivation, and
// profile versioning.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/agent/repository"
	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events"
	"github.com/agentswarm/agentswarm/internal/events/bus"
)

var ErrEmptyName = errors.New("agent name is required")

// ActiveCounter reports how many in_progress tasks an agent holds. The task
// repository satisfies it.
type ActiveCounter interface {
	CountActiveTasks(ctx context.Context, agentID string) (int, error)
	CountActiveByAgent(ctx context.Context) (map[string]int, error)
}

// RegisterRequest carries agent identity and initial profile. Empty profile
// strings at registration mean "not provided".
type RegisterRequest struct {
	ID     string
	Name   string
	IsLead bool

	Role         string
	Description  string
	Capabilities []string
	MaxTasks     int

	ClaudeMd    string
	SoulMd      string
	IdentityMd  string
	SetupScript string
	ToolsMd     string
}

// Service provides agent registry business logic.
type Service struct {
	repo     repository.Repository
	tasks    ActiveCounter
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates a new agent service.
func NewService(repo repository.Repository, tasks ActiveCounter, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		tasks:    tasks,
		eventBus: eventBus,
		logger:   log.WithComponent("agent-service"),
	}
}

// Register is an idempotent upsert keyed by explicit ID, then by unique
// name. An existing offline agent is revived to idle and its empty-poll
// counter reset. Returns created=true only for a brand-new agent.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*models.Agent, bool, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, false, ErrEmptyName
	}
	if err := validatePersona(req.Role, map[string]string{
		models.FieldClaudeMd:    req.ClaudeMd,
		models.FieldSoulMd:      req.SoulMd,
		models.FieldIdentityMd:  req.IdentityMd,
		models.FieldSetupScript: req.SetupScript,
		models.FieldToolsMd:     req.ToolsMd,
	}); err != nil {
		return nil, false, err
	}

	existing := s.findExisting(ctx, req)
	if existing != nil {
		if err := s.repo.ReviveAgent(ctx, existing.ID); err != nil {
			return nil, false, err
		}
		update := registerProfileUpdate(req)
		if update != nil {
			agent, _, err := s.repo.UpdateProfile(ctx, existing.ID, update)
			if err != nil {
				return nil, false, err
			}
			existing = agent
		} else {
			agent, err := s.repo.GetAgent(ctx, existing.ID)
			if err != nil {
				return nil, false, err
			}
			existing = agent
		}
		s.logger.Info("agent re-registered",
			zap.String("agent_id", existing.ID),
			zap.String("name", existing.Name))
		return existing, false, nil
	}

	agent := &models.Agent{
		ID:           req.ID,
		Name:         req.Name,
		IsLead:       req.IsLead,
		MaxTasks:     req.MaxTasks,
		Role:         req.Role,
		Description:  req.Description,
		Capabilities: req.Capabilities,
		ClaudeMd:     req.ClaudeMd,
		SoulMd:       req.SoulMd,
		IdentityMd:   req.IdentityMd,
		SetupScript:  req.SetupScript,
		ToolsMd:      req.ToolsMd,
	}
	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		return nil, false, err
	}

	// Seed version history for the persona fields provided at registration.
	if update := registerProfileUpdate(req); update != nil {
		update.Role = nil
		update.Description = nil
		update.Capabilities = nil
		update.MaxTasks = nil
		update.ChangeSource = "register"
		if _, _, err := s.repo.UpdateProfile(ctx, agent.ID, update); err != nil {
			s.logger.Warn("failed to seed context versions", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}

	s.publishAgentEvent(ctx, events.AgentRegistered, agent)
	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.Bool("is_lead", agent.IsLead))
	return agent, true, nil
}

// findExisting resolves a registration against the current registry.
func (s *Service) findExisting(ctx context.Context, req *RegisterRequest) *models.Agent {
	if req.ID != "" {
		if agent, err := s.repo.GetAgent(ctx, req.ID); err == nil {
			return agent
		}
	}
	if agent, err := s.repo.GetAgentByName(ctx, req.Name); err == nil {
		return agent
	}
	return nil
}

// registerProfileUpdate converts non-empty registration profile fields into
// a coalescing update, or nil when nothing was provided.
func registerProfileUpdate(req *RegisterRequest) *models.ProfileUpdate {
	update := &models.ProfileUpdate{ChangeSource: "register"}
	any := false
	set := func(dst **string, v string) {
		if v != "" {
			val := v
			*dst = &val
			any = true
		}
	}
	set(&update.ClaudeMd, req.ClaudeMd)
	set(&update.SoulMd, req.SoulMd)
	set(&update.IdentityMd, req.IdentityMd)
	set(&update.SetupScript, req.SetupScript)
	set(&update.ToolsMd, req.ToolsMd)
	set(&update.Role, req.Role)
	set(&update.Description, req.Description)
	if len(req.Capabilities) > 0 {
		caps := req.Capabilities
		update.Capabilities = &caps
		any = true
	}
	if req.MaxTasks > 0 {
		mt := req.MaxTasks
		update.MaxTasks = &mt
		any = true
	}
	if !any {
		return nil
	}
	return update
}

// GetAgent returns the agent with its status freshly derived from capacity.
func (s *Service) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.repo.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.deriveStatus(ctx, agent)
}

// ListAgents returns all agents with derived statuses.
func (s *Service) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.tasks.CountActiveByAgent(ctx)
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		if agent.Status == models.StatusOffline {
			continue
		}
		agent.Status = capacityStatus(active[agent.ID])
	}
	return agents, nil
}

// Heartbeat records liveness. Offline agents come back idle, busy stays.
func (s *Service) Heartbeat(ctx context.Context, id string) error {
	return s.repo.Heartbeat(ctx, id)
}

// Close transitions the agent to offline.
func (s *Service) Close(ctx context.Context, id string) error {
	if err := s.repo.CloseAgent(ctx, id); err != nil {
		return err
	}
	if s.eventBus != nil {
		event := bus.NewEvent(events.AgentClosed, "agent-service", map[string]interface{}{
			"agent_id": id,
		})
		if err := s.eventBus.Publish(ctx, events.AgentClosed, event); err != nil {
			s.logger.Error("failed to publish agent event", zap.String("agent_id", id), zap.Error(err))
		}
	}
	s.logger.Info("agent closed", zap.String("agent_id", id))
	return nil
}

// DeleteAgent removes an agent entirely.
func (s *Service) DeleteAgent(ctx context.Context, id string) error {
	return s.repo.DeleteAgent(ctx, id)
}

// HasCapacity reports whether the agent can take another in_progress task.
func (s *Service) HasCapacity(ctx context.Context, id string) (bool, error) {
	agent, err := s.repo.GetAgent(ctx, id)
	if err != nil {
		return false, err
	}
	active, err := s.tasks.CountActiveTasks(ctx, id)
	if err != nil {
		return false, err
	}
	return active < agent.MaxTasks, nil
}

// RefreshStatus re-derives and persists busy/idle after a task transition.
// Offline agents are left alone.
func (s *Service) RefreshStatus(ctx context.Context, id string) error {
	agent, err := s.repo.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if agent.Status == models.StatusOffline {
		return nil
	}
	active, err := s.tasks.CountActiveTasks(ctx, id)
	if err != nil {
		return err
	}
	derived := capacityStatus(active)
	if derived == agent.Status {
		return nil
	}
	if err := s.repo.SetStatus(ctx, id, derived); err != nil {
		return err
	}
	s.publishAgentEvent(ctx, events.AgentStatusChanged, agent)
	return nil
}

// UpdateProfile validates and applies a profile update, versioning changed
// persona fields.
func (s *Service) UpdateProfile(ctx context.Context, agentID string, update *models.ProfileUpdate) (*models.Agent, []*models.ContextVersion, error) {
	personas := make(map[string]string)
	for field, ptr := range update.PersonaUpdates() {
		if ptr != nil {
			personas[field] = *ptr
		}
	}
	role := ""
	if update.Role != nil {
		role = *update.Role
	}
	if err := validatePersona(role, personas); err != nil {
		return nil, nil, err
	}
	if update.MaxTasks != nil && *update.MaxTasks <= 0 {
		return nil, nil, fmt.Errorf("invalid maxTasks: must be positive")
	}

	agent, versions, err := s.repo.UpdateProfile(ctx, agentID, update)
	if err != nil {
		return nil, nil, err
	}
	if len(versions) > 0 {
		s.publishAgentEvent(ctx, events.AgentProfileEdited, agent)
	}
	s.logger.Info("agent profile updated",
		zap.String("agent_id", agentID),
		zap.Int("new_versions", len(versions)))
	return agent, versions, nil
}

// ListContextVersions exposes persona version history.
func (s *Service) ListContextVersions(ctx context.Context, agentID, field string) ([]*models.ContextVersion, error) {
	return s.repo.ListContextVersions(ctx, agentID, field)
}

// IncrementEmptyPolls bumps the poll counter and reports whether the worker
// should back off.
func (s *Service) IncrementEmptyPolls(ctx context.Context, id string) (blocked bool, err error) {
	count, err := s.repo.IncrementEmptyPolls(ctx, id)
	if err != nil {
		return false, err
	}
	return count >= constants.MaxEmptyPolls, nil
}

// ResetEmptyPolls clears the counter after a delivered trigger.
func (s *Service) ResetEmptyPolls(ctx context.Context, id string) error {
	return s.repo.ResetEmptyPolls(ctx, id)
}

func (s *Service) deriveStatus(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if agent.Status == models.StatusOffline {
		return agent, nil
	}
	active, err := s.tasks.CountActiveTasks(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	agent.Status = capacityStatus(active)
	return agent, nil
}

func capacityStatus(activeCount int) models.AgentStatus {
	if activeCount > 0 {
		return models.StatusBusy
	}
	return models.StatusIdle
}

func validatePersona(role string, personas map[string]string) error {
	if len(role) > constants.MaxRoleLength {
		return fmt.Errorf("invalid role: exceeds %d characters", constants.MaxRoleLength)
	}
	for field, content := range personas {
		if len(content) > constants.MaxPersonaFieldSize {
			return fmt.Errorf("invalid %s: exceeds %d bytes", field, constants.MaxPersonaFieldSize)
		}
	}
	return nil
}

func (s *Service) publishAgentEvent(ctx context.Context, eventType string, agent *models.Agent) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"agent_id":   agent.ID,
		"name":       agent.Name,
		"is_lead":    agent.IsLead,
		"status":     string(agent.Status),
		"created_at": agent.CreatedAt.Format(time.RFC3339),
	}
	event := bus.NewEvent(eventType, "agent-service", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish agent event",
			zap.String("event_type", eventType),
			zap.String("agent_id", agent.ID),
			zap.Error(err))
	}
}
