package agentlog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/logger"
)

// RegisterAuditRoutes exposes read access to the audit trail. Writes only
// happen inside domain transactions via Append; there is no write endpoint.
func RegisterAuditRoutes(router gin.IRouter, repo *Repository, log *logger.Logger) {
	h := &auditHandlers{repo: repo, logger: log}
	api := router.Group("/api")
	{
		api.GET("/tasks/:id/logs", h.taskLogs)
		api.GET("/agents/:id/logs", h.agentLogs)
	}
}

type auditHandlers struct {
	repo   *Repository
	logger *logger.Logger
}

// taskLogs handles GET /api/tasks/:id/logs
func (h *auditHandlers) taskLogs(c *gin.Context) {
	h.list(c, ListFilter{
		TaskID:    c.Param("id"),
		EventType: c.Query("eventType"),
		Limit:     limitParam(c),
	})
}

// agentLogs handles GET /api/agents/:id/logs
func (h *auditHandlers) agentLogs(c *gin.Context) {
	h.list(c, ListFilter{
		AgentID:   c.Param("id"),
		EventType: c.Query("eventType"),
		Limit:     limitParam(c),
	})
}

func (h *auditHandlers) list(c *gin.Context, filter ListFilter) {
	entries, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

func limitParam(c *gin.Context) int {
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
