// Package handlers exposes scheduled tasks over HTTP.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/schedule/dto"
	"github.com/agentswarm/agentswarm/internal/schedule/models"
	"github.com/agentswarm/agentswarm/internal/schedule/service"
	"github.com/agentswarm/agentswarm/internal/store"
)

type ScheduleHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewScheduleHandlers(svc *service.Service, log *logger.Logger) *ScheduleHandlers {
	return &ScheduleHandlers{
		service: svc,
		logger:  log.WithComponent("schedule-handlers"),
	}
}

// RegisterScheduleRoutes mounts the scheduled-task API.
func RegisterScheduleRoutes(router gin.IRouter, svc *service.Service, log *logger.Logger) {
	h := NewScheduleHandlers(svc, log)

	api := router.Group("/api")
	api.POST("/scheduled-tasks", h.createSchedule)
	api.GET("/scheduled-tasks", h.listSchedules)
	api.GET("/scheduled-tasks/:id", h.getSchedule)
	api.PUT("/scheduled-tasks/:id", h.updateSchedule)
	api.DELETE("/scheduled-tasks/:id", h.deleteSchedule)
	api.POST("/scheduled-tasks/:id/run-now", h.runNow)
}

func (h *ScheduleHandlers) createSchedule(c *gin.Context) {
	var req dto.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and task are required")
		return
	}

	sched, err := h.service.CreateSchedule(c.Request.Context(), &service.CreateScheduleRequest{
		Name:           req.Name,
		Description:    req.Description,
		TaskTemplate:   req.TaskTemplate,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		IntervalMs:     req.IntervalMs,
		TargetAgentID:  req.TargetAgentID,
		Priority:       req.Priority,
		Tags:           req.Tags,
		Enabled:        req.Enabled,
	})
	if err != nil {
		handleError(c, h.logger, err, "schedule not found")
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (h *ScheduleHandlers) listSchedules(c *gin.Context) {
	filter := models.ListFilter{Name: c.Query("name")}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid enabled filter")
			return
		}
		filter.Enabled = &enabled
	}

	schedules, err := h.service.ListSchedules(c.Request.Context(), filter)
	if err != nil {
		handleError(c, h.logger, err, "schedule not found")
		return
	}
	if schedules == nil {
		schedules = []*models.ScheduledTask{}
	}
	c.JSON(http.StatusOK, dto.SchedulesResponse{Schedules: schedules})
}

func (h *ScheduleHandlers) getSchedule(c *gin.Context) {
	sched, err := h.service.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "schedule not found")
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *ScheduleHandlers) updateSchedule(c *gin.Context) {
	var req dto.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	sched, err := h.service.UpdateSchedule(c.Request.Context(), c.Param("id"), &service.UpdateScheduleRequest{
		Description:    req.Description,
		TaskTemplate:   req.TaskTemplate,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		IntervalMs:     req.IntervalMs,
		TargetAgentID:  req.TargetAgentID,
		Priority:       req.Priority,
		Tags:           req.Tags,
		Enabled:        req.Enabled,
	})
	if err != nil {
		handleError(c, h.logger, err, "schedule not found")
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *ScheduleHandlers) deleteSchedule(c *gin.Context) {
	if err := h.service.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, err, "schedule not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ScheduleHandlers) runNow(c *gin.Context) {
	task, err := h.service.RunNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == service.ErrScheduleDisabled {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		handleError(c, h.logger, err, "schedule not found")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
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
