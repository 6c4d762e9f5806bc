// Package handlers exposes the agent registry over HTTP.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/agent/dto"
	"github.com/agentswarm/agentswarm/internal/agent/models"
	"github.com/agentswarm/agentswarm/internal/agent/service"
	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/store"
)

type AgentHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewAgentHandlers(svc *service.Service, log *logger.Logger) *AgentHandlers {
	return &AgentHandlers{
		service: svc,
		logger:  log.WithComponent("agent-handlers"),
	}
}

// RegisterAgentRoutes mounts the registry API. The identity endpoints
// (/me, /ping, /close) sit at the root for the worker loop.
func RegisterAgentRoutes(router gin.IRouter, svc *service.Service, log *logger.Logger) {
	h := NewAgentHandlers(svc, log)

	router.GET("/me", h.me)
	router.POST("/ping", h.ping)
	router.POST("/close", h.close)

	api := router.Group("/api")
	api.POST("/agents", h.register)
	api.GET("/agents", h.listAgents)
	api.GET("/agents/:id", h.getAgent)
	api.DELETE("/agents/:id", h.deleteAgent)
	api.PUT("/agents/:id/profile", h.updateProfile)
	api.GET("/agents/:id/context-versions", h.listContextVersions)
}

// callerID extracts the agent identity header.
func callerID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(constants.HeaderAgentID))
}

func (h *AgentHandlers) register(c *gin.Context) {
	var req dto.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}

	agent, created, err := h.service.Register(c.Request.Context(), &service.RegisterRequest{
		ID:           callerID(c),
		Name:         req.Name,
		IsLead:       req.IsLead,
		Role:         req.Role,
		Description:  req.Description,
		Capabilities: req.Capabilities,
		MaxTasks:     req.MaxTasks,
		ClaudeMd:     req.ClaudeMd,
		SoulMd:       req.SoulMd,
		IdentityMd:   req.IdentityMd,
		SetupScript:  req.SetupScript,
		ToolsMd:      req.ToolsMd,
	})
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, agent)
}

func (h *AgentHandlers) me(c *gin.Context) {
	id := callerID(c)
	if id == "" {
		badRequest(c, "X-Agent-ID header is required")
		return
	}
	agent, err := h.service.GetAgent(c.Request.Context(), id)
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *AgentHandlers) ping(c *gin.Context) {
	id := callerID(c)
	if id == "" {
		badRequest(c, "X-Agent-ID header is required")
		return
	}
	if err := h.service.Heartbeat(c.Request.Context(), id); err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AgentHandlers) close(c *gin.Context) {
	id := callerID(c)
	if id == "" {
		badRequest(c, "X-Agent-ID header is required")
		return
	}
	if err := h.service.Close(c.Request.Context(), id); err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "offline"})
}

func (h *AgentHandlers) getAgent(c *gin.Context) {
	agent, err := h.service.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *AgentHandlers) listAgents(c *gin.Context) {
	agents, err := h.service.ListAgents(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "agents not found")
		return
	}
	if agents == nil {
		agents = []*models.Agent{}
	}
	c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: agents})
}

func (h *AgentHandlers) deleteAgent(c *gin.Context) {
	if err := h.service.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *AgentHandlers) updateProfile(c *gin.Context) {
	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid profile update")
		return
	}

	agent, versions, err := h.service.UpdateProfile(c.Request.Context(), c.Param("id"), &models.ProfileUpdate{
		Role:             req.Role,
		Description:      req.Description,
		Capabilities:     req.Capabilities,
		MaxTasks:         req.MaxTasks,
		ClaudeMd:         req.ClaudeMd,
		SoulMd:           req.SoulMd,
		IdentityMd:       req.IdentityMd,
		SetupScript:      req.SetupScript,
		ToolsMd:          req.ToolsMd,
		ChangeSource:     req.ChangeSource,
		ChangedByAgentID: req.ChangedByAgentID,
		ChangeReason:     req.ChangeReason,
	})
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	if versions == nil {
		versions = []*models.ContextVersion{}
	}
	c.JSON(http.StatusOK, dto.UpdateProfileResponse{Agent: agent, NewVersions: versions})
}

func (h *AgentHandlers) listContextVersions(c *gin.Context) {
	versions, err := h.service.ListContextVersions(c.Request.Context(), c.Param("id"), c.Query("field"))
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	if versions == nil {
		versions = []*models.ContextVersion{}
	}
	c.JSON(http.StatusOK, dto.ContextVersionsResponse{Versions: versions})
}

// Error mapping mirrors the task handlers.

func handleError(c *gin.Context, log *logger.Logger, err error, fallback string) {
	switch {
	case store.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": fallback})
	case store.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case isValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case store.IsUnavailable(err):
		log.Error("storage unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func isValidationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "required") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "exceeds")
}
