// Package handlers exposes epics over HTTP.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/epic/dto"
	"github.com/agentswarm/agentswarm/internal/epic/models"
	"github.com/agentswarm/agentswarm/internal/epic/service"
	"github.com/agentswarm/agentswarm/internal/store"
)

type EpicHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewEpicHandlers(svc *service.Service, log *logger.Logger) *EpicHandlers {
	return &EpicHandlers{
		service: svc,
		logger:  log.WithComponent("epic-handlers"),
	}
}

// RegisterEpicRoutes mounts the epic API.
func RegisterEpicRoutes(router gin.IRouter, svc *service.Service, log *logger.Logger) {
	h := NewEpicHandlers(svc, log)

	api := router.Group("/api")
	api.POST("/epics", h.createEpic)
	api.GET("/epics", h.listEpics)
	api.GET("/epics/:id", h.getEpic)
	api.PUT("/epics/:id/status", h.setStatus)
}

func (h *EpicHandlers) createEpic(c *gin.Context) {
	var req dto.CreateEpicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}

	leadAgentID := req.LeadAgentID
	if leadAgentID == "" {
		leadAgentID = strings.TrimSpace(c.GetHeader(constants.HeaderAgentID))
	}

	epic, err := h.service.CreateEpic(c.Request.Context(), &service.CreateEpicRequest{
		Name:        req.Name,
		Goal:        req.Goal,
		Status:      models.EpicStatus(req.Status),
		Priority:    req.Priority,
		Tags:        req.Tags,
		LeadAgentID: leadAgentID,
	})
	if err != nil {
		handleError(c, h.logger, err, "epic not found")
		return
	}
	c.JSON(http.StatusCreated, epic)
}

func (h *EpicHandlers) listEpics(c *gin.Context) {
	epics, err := h.service.ListEpics(c.Request.Context(), models.EpicStatus(c.Query("status")))
	if err != nil {
		handleError(c, h.logger, err, "epic not found")
		return
	}
	if epics == nil {
		epics = []*models.Epic{}
	}
	c.JSON(http.StatusOK, dto.EpicsResponse{Epics: epics})
}

func (h *EpicHandlers) getEpic(c *gin.Context) {
	epic, err := h.service.GetEpicWithProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "epic not found")
		return
	}
	c.JSON(http.StatusOK, epic)
}

func (h *EpicHandlers) setStatus(c *gin.Context) {
	var req dto.EpicStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	epic, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), models.EpicStatus(req.Status))
	if err != nil {
		handleError(c, h.logger, err, "epic not found")
		return
	}
	c.JSON(http.StatusOK, epic)
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
		strings.Contains(msg, "unknown") ||
		strings.Contains(msg, "exceeds")
}
