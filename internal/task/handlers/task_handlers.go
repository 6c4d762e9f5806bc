package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/task/dto"
	"github.com/agentswarm/agentswarm/internal/task/models"
	"github.com/agentswarm/agentswarm/internal/task/service"
)

type TaskHandlers struct {
	service *service.Service
	idempo  *gocache.Cache
	logger  *logger.Logger
}

func NewTaskHandlers(svc *service.Service, log *logger.Logger) *TaskHandlers {
	return &TaskHandlers{
		service: svc,
		idempo:  gocache.New(constants.IdempotencyWindow, 2*constants.IdempotencyWindow),
		logger:  log.WithComponent("task-handlers"),
	}
}

// RegisterTaskRoutes mounts the task API under /api.
func RegisterTaskRoutes(router gin.IRouter, svc *service.Service, log *logger.Logger) {
	h := NewTaskHandlers(svc, log)

	api := router.Group("/api")
	api.GET("/tasks", h.listTasks)
	api.GET("/tasks/:id", h.getTask)
	api.GET("/tasks/:id/dependencies", h.checkDependencies)
	api.POST("/tasks", h.createTask)
	api.POST("/tasks/notified/reset", h.resetNotified)
	api.PUT("/tasks/:id/claude-session", h.attachClaudeSession)

	api.POST("/tasks/:id/claim", h.claimTask)
	api.POST("/tasks/:id/offer", h.offerTask)
	api.POST("/tasks/:id/accept", h.acceptTask)
	api.POST("/tasks/:id/reject", h.rejectTask)
	api.POST("/tasks/:id/start", h.startTask)
	api.POST("/tasks/:id/pause", h.pauseTask)
	api.POST("/tasks/:id/resume", h.resumeTask)
	api.POST("/tasks/:id/complete", h.completeTask)
	api.POST("/tasks/:id/fail", h.failTask)
	api.POST("/tasks/:id/cancel", h.cancelTask)
	api.POST("/tasks/:id/progress", h.setProgress)
	api.POST("/tasks/:id/move-to-pool", h.moveToPool)
	api.POST("/tasks/:id/move-to-backlog", h.moveToBacklog)
}

func (h *TaskHandlers) createTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "task is required")
		return
	}

	// A repeated idempotency key within the window returns the task the
	// first submission created.
	idempoKey := c.GetHeader(constants.HeaderIdempotencyKey)
	if idempoKey != "" {
		if cached, ok := h.idempo.Get(idempoKey); ok {
			if task, err := h.service.GetTask(c.Request.Context(), cached.(string)); err == nil {
				c.JSON(http.StatusOK, task)
				return
			}
		}
	}

	source := models.TaskSource(req.Source)
	if source == "" {
		source = models.SourceAPI
	}
	task, err := h.service.CreateTask(c.Request.Context(), &service.CreateTaskRequest{
		Task:              req.Task,
		AgentID:           req.AgentID,
		CreatorAgentID:    req.CreatorAgentID,
		OfferedTo:         req.OfferedTo,
		Backlog:           req.Backlog,
		Source:            source,
		TaskType:          req.TaskType,
		Tags:              req.Tags,
		Priority:          req.Priority,
		DependsOn:         req.DependsOn,
		EpicID:            req.EpicID,
		ParentTaskID:      req.ParentTaskID,
		SlackChannel:      req.SlackChannel,
		SlackTs:           req.SlackTs,
		GithubRepo:        req.GithubRepo,
		GithubIssueNumber: req.GithubIssueNumber,
		AgentmailThreadID: req.AgentmailThreadID,
		MentionMessageID:  req.MentionMessageID,
		MentionChannelID:  req.MentionChannelID,
	})
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if idempoKey != "" {
		h.idempo.Set(idempoKey, task.ID, gocache.DefaultExpiration)
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandlers) getTask(c *gin.Context) {
	task, err := h.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) listTasks(c *gin.Context) {
	filter := models.ListFilter{
		AgentID: c.Query("agentId"),
		EpicID:  c.Query("epicId"),
		Tag:     c.Query("tag"),
	}
	if status := c.Query("status"); status != "" {
		st := models.TaskStatus(status)
		if !st.IsValid() {
			badRequest(c, "invalid status: "+status)
			return
		}
		filter.Status = st
	}
	if source := c.Query("source"); source != "" {
		filter.Source = models.TaskSource(source)
	}
	if limit := c.Query("limit"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if parsed, err := strconv.Atoi(offset); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	tasks, total, err := h.service.ListTasks(c.Request.Context(), filter)
	if err != nil {
		handleError(c, h.logger, err, "tasks not found")
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	c.JSON(http.StatusOK, dto.ListTasksResponse{Tasks: tasks, Total: total})
}

func (h *TaskHandlers) checkDependencies(c *gin.Context) {
	status, err := h.service.CheckDependencies(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, status)
}

// actingAgent resolves the agent performing a lifecycle action from the body
// or the X-Agent-ID header.
func actingAgent(c *gin.Context, bodyAgent string) string {
	if bodyAgent != "" {
		return bodyAgent
	}
	return c.GetHeader(constants.HeaderAgentID)
}

func (h *TaskHandlers) claimTask(c *gin.Context) {
	var req dto.AgentActionRequest
	_ = c.ShouldBindJSON(&req)
	agentID := actingAgent(c, req.AgentID)
	if agentID == "" {
		badRequest(c, "agentId is required")
		return
	}
	task, err := h.service.ClaimTask(c.Request.Context(), c.Param("id"), agentID)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not claimable")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) offerTask(c *gin.Context) {
	var req dto.AgentActionRequest
	_ = c.ShouldBindJSON(&req)
	if req.AgentID == "" {
		badRequest(c, "agentId is required")
		return
	}
	task, err := h.service.OfferTask(c.Request.Context(), c.Param("id"), req.AgentID)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not in the pool")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) acceptTask(c *gin.Context) {
	var req dto.AgentActionRequest
	_ = c.ShouldBindJSON(&req)
	agentID := actingAgent(c, req.AgentID)
	if agentID == "" {
		badRequest(c, "agentId is required")
		return
	}
	task, err := h.service.AcceptTask(c.Request.Context(), c.Param("id"), agentID)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not offered to this agent")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) rejectTask(c *gin.Context) {
	var req dto.RejectTaskRequest
	_ = c.ShouldBindJSON(&req)
	agentID := actingAgent(c, req.AgentID)
	if agentID == "" {
		badRequest(c, "agentId is required")
		return
	}
	task, err := h.service.RejectTask(c.Request.Context(), c.Param("id"), agentID, req.Reason)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not offered to this agent")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) startTask(c *gin.Context) {
	h.transition(c, h.service.StartTask, "task is not pending")
}

func (h *TaskHandlers) pauseTask(c *gin.Context) {
	h.transition(c, h.service.PauseTask, "task is not in progress")
}

func (h *TaskHandlers) resumeTask(c *gin.Context) {
	h.transition(c, h.service.ResumeTask, "task is not paused")
}

func (h *TaskHandlers) moveToPool(c *gin.Context) {
	h.transition(c, h.service.MoveToPool, "task is not in the backlog")
}

func (h *TaskHandlers) moveToBacklog(c *gin.Context) {
	h.transition(c, h.service.MoveToBacklog, "task is not unassigned")
}

func (h *TaskHandlers) completeTask(c *gin.Context) {
	var req dto.CompleteTaskRequest
	_ = c.ShouldBindJSON(&req)
	task, err := h.service.CompleteTask(c.Request.Context(), c.Param("id"), req.Output)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not active")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) failTask(c *gin.Context) {
	var req dto.FailTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reason is required")
		return
	}
	task, err := h.service.FailTask(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not active")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) cancelTask(c *gin.Context) {
	var req dto.CancelTaskRequest
	_ = c.ShouldBindJSON(&req)
	task, err := h.service.CancelTask(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not pending or in progress")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) setProgress(c *gin.Context) {
	var req dto.ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "progress is required")
		return
	}
	task, err := h.service.SetProgress(c.Request.Context(), c.Param("id"), req.Progress)
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, "task is not active")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandlers) attachClaudeSession(c *gin.Context) {
	var req dto.ClaudeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "claudeSessionId is required")
		return
	}
	if err := h.service.AttachClaudeSession(c.Request.Context(), c.Param("id"), req.ClaudeSessionID); err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *TaskHandlers) resetNotified(c *gin.Context) {
	var req dto.ResetNotifiedRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.TaskIDs) == 0 {
		badRequest(c, "taskIds is required")
		return
	}
	if err := h.service.ResetNotified(c.Request.Context(), req.TaskIDs); err != nil {
		handleError(c, h.logger, err, "tasks not found")
		return
	}
	h.logger.Debug("notified reset", zap.Int("count", len(req.TaskIDs)))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// transition runs a bodyless lifecycle call shared by start/pause/resume and
// the pool moves.
func (h *TaskHandlers) transition(c *gin.Context, op func(context.Context, string) (*models.Task, error), conflictMsg string) {
	task, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "task not found")
		return
	}
	if task == nil {
		conflict(c, conflictMsg)
		return
	}
	c.JSON(http.StatusOK, task)
}
