// Package handlers exposes sessions, costs, and swarm stats over HTTP.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/session/dto"
	"github.com/agentswarm/agentswarm/internal/session/models"
	"github.com/agentswarm/agentswarm/internal/session/service"
	"github.com/agentswarm/agentswarm/internal/store"
)

type SessionHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewSessionHandlers(svc *service.Service, log *logger.Logger) *SessionHandlers {
	return &SessionHandlers{
		service: svc,
		logger:  log.WithComponent("session-handlers"),
	}
}

// RegisterSessionRoutes mounts the session, cost, and stats API.
func RegisterSessionRoutes(router gin.IRouter, svc *service.Service, log *logger.Logger) {
	h := NewSessionHandlers(svc, log)

	api := router.Group("/api")
	api.POST("/sessions", h.startSession)
	api.POST("/sessions/heartbeat", h.heartbeat)
	api.POST("/sessions/end", h.endSession)
	api.GET("/sessions", h.listSessions)

	api.POST("/session-costs", h.createCost)
	api.GET("/session-costs", h.listCosts)
	api.GET("/session-costs/summary", h.costSummary)
	api.GET("/session-costs/dashboard", h.costDashboard)

	api.POST("/session-logs", h.createLog)
	api.GET("/session-logs", h.listLogs)

	api.GET("/stats", h.stats)
}

func (h *SessionHandlers) startSession(c *gin.Context) {
	var req dto.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.AgentID == "" {
		req.AgentID = strings.TrimSpace(c.GetHeader(constants.HeaderAgentID))
	}

	session, err := h.service.Start(c.Request.Context(), &service.StartSessionRequest{
		AgentID:         req.AgentID,
		TaskID:          req.TaskID,
		TriggerType:     req.TriggerType,
		InboxMessageID:  req.InboxMessageID,
		TaskDescription: req.TaskDescription,
	})
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandlers) heartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "taskId is required")
		return
	}
	if err := h.service.Heartbeat(c.Request.Context(), req.TaskID); err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SessionHandlers) endSession(c *gin.Context) {
	var req dto.EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "sessionId or taskId is required")
		return
	}
	if err := h.service.End(c.Request.Context(), req.SessionID, req.TaskID); err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *SessionHandlers) listSessions(c *gin.Context) {
	sessions, err := h.service.List(c.Request.Context(), c.Query("agentId"))
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	if sessions == nil {
		sessions = []*models.ActiveSession{}
	}
	c.JSON(http.StatusOK, dto.SessionsResponse{Sessions: sessions})
}

func (h *SessionHandlers) createCost(c *gin.Context) {
	var req dto.SessionCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.AgentID == "" {
		req.AgentID = strings.TrimSpace(c.GetHeader(constants.HeaderAgentID))
	}

	cost, err := h.service.RecordCost(c.Request.Context(), &models.SessionCost{
		AgentID:             req.AgentID,
		TaskID:              req.TaskID,
		SessionID:           req.SessionID,
		Model:               req.Model,
		InputTokens:         req.InputTokens,
		OutputTokens:        req.OutputTokens,
		CacheReadTokens:     req.CacheReadTokens,
		CacheCreationTokens: req.CacheCreationTokens,
		TotalCostUSD:        req.TotalCostUSD,
		DurationMs:          req.DurationMs,
		NumTurns:            req.NumTurns,
	})
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	c.JSON(http.StatusCreated, cost)
}

func (h *SessionHandlers) listCosts(c *gin.Context) {
	filter := models.CostFilter{
		AgentID: c.Query("agentId"),
		TaskID:  c.Query("taskId"),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid since timestamp")
			return
		}
		filter.Since = &since
	}

	costs, err := h.service.ListCosts(c.Request.Context(), filter)
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	if costs == nil {
		costs = []*models.SessionCost{}
	}
	c.JSON(http.StatusOK, dto.CostsResponse{Costs: costs})
}

func (h *SessionHandlers) costSummary(c *gin.Context) {
	summary, err := h.service.CostSummary(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *SessionHandlers) costDashboard(c *gin.Context) {
	dashboard, err := h.service.CostDashboard(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	if dashboard.Agents == nil {
		dashboard.Agents = []*models.AgentCostUsage{}
	}
	c.JSON(http.StatusOK, dashboard)
}

func (h *SessionHandlers) createLog(c *gin.Context) {
	var req dto.SessionLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content is required")
		return
	}
	if req.AgentID == "" {
		req.AgentID = strings.TrimSpace(c.GetHeader(constants.HeaderAgentID))
	}

	log, err := h.service.AppendLog(c.Request.Context(), &models.SessionLog{
		AgentID:   req.AgentID,
		TaskID:    req.TaskID,
		SessionID: req.SessionID,
		Content:   req.Content,
	})
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	c.JSON(http.StatusCreated, log)
}

func (h *SessionHandlers) listLogs(c *gin.Context) {
	logs, err := h.service.ListLogs(c.Request.Context(), c.Query("taskId"), c.Query("sessionId"))
	if err != nil {
		handleError(c, h.logger, err, "session not found")
		return
	}
	if logs == nil {
		logs = []*models.SessionLog{}
	}
	c.JSON(http.StatusOK, dto.LogsResponse{Logs: logs})
}

func (h *SessionHandlers) stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "stats unavailable")
		return
	}
	c.JSON(http.StatusOK, stats)
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
