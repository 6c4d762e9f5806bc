package ingress

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/store"
)

// RegisterIngressRoutes exposes the ingestion funnel to out-of-process
// adapters that normalize upstream payloads themselves.
func RegisterIngressRoutes(router gin.IRouter, ingestor *Ingestor, log *logger.Logger) {
	h := &handlers{ingestor: ingestor, log: log.WithComponent("ingress-handlers")}

	api := router.Group("/api")
	api.POST("/ingress", h.ingest)
}

type handlers struct {
	ingestor *Ingestor
	log      *logger.Logger
}

func (h *handlers) ingest(c *gin.Context) {
	var event Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), &event)
	switch {
	case err == ErrDuplicate:
		// Redeliveries are acked so the provider stops retrying.
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
	case err == ErrRateLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case err != nil:
		h.handleError(c, err)
	case result.Task != nil:
		c.JSON(http.StatusCreated, gin.H{"status": "accepted", "task": result.Task})
	default:
		c.JSON(http.StatusCreated, gin.H{"status": "accepted", "message": result.Inbox})
	}
}

// Error mapping mirrors the task handlers.
func (h *handlers) handleError(c *gin.Context, err error) {
	switch {
	case store.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case isValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case store.IsUnavailable(err):
		h.log.Error("store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	default:
		h.log.Error("ingestion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
	}
}

func isValidationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "required") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unknown") ||
		strings.Contains(msg, "exceeds")
}
