package dispatch

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/store"
)

type PollHandlers struct {
	service *Service
	logger  *logger.Logger
}

func NewPollHandlers(svc *Service, log *logger.Logger) *PollHandlers {
	return &PollHandlers{
		service: svc,
		logger:  log.WithComponent("poll-handlers"),
	}
}

// RegisterPollRoutes mounts the poll endpoint.
func RegisterPollRoutes(router gin.IRouter, svc *Service, log *logger.Logger) {
	h := NewPollHandlers(svc, log)

	api := router.Group("/api")
	api.GET("/poll", h.poll)
}

func (h *PollHandlers) poll(c *gin.Context) {
	agentID := strings.TrimSpace(c.GetHeader(constants.HeaderAgentID))
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Agent-ID header is required"})
		return
	}

	result, err := h.service.Poll(c.Request.Context(), agentID)
	if err != nil {
		switch {
		case store.IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		case store.IsUnavailable(err):
			h.logger.Error("storage unavailable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		default:
			h.logger.Error("poll failed", zap.String("agent_id", agentID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "poll failed"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}
