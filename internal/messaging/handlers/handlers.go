// Package handlers exposes channels and inboxes over HTTP.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/constants"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/messaging/dto"
	"github.com/agentswarm/agentswarm/internal/messaging/models"
	"github.com/agentswarm/agentswarm/internal/messaging/service"
	"github.com/agentswarm/agentswarm/internal/store"
)

type MessagingHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewMessagingHandlers(svc *service.Service, log *logger.Logger) *MessagingHandlers {
	return &MessagingHandlers{
		service: svc,
		logger:  log.WithComponent("messaging-handlers"),
	}
}

// RegisterMessagingRoutes mounts the channel, mention, and inbox API.
func RegisterMessagingRoutes(router gin.IRouter, svc *service.Service, log *logger.Logger) {
	h := NewMessagingHandlers(svc, log)

	api := router.Group("/api")
	api.POST("/channels", h.createChannel)
	api.GET("/channels", h.listChannels)
	api.GET("/channels/:id", h.getChannel)
	api.GET("/channels/:id/messages", h.listMessages)
	api.POST("/channels/:id/messages", h.postMessage)
	api.POST("/channels/:id/read", h.markRead)
	api.GET("/channels/:id/mentions", h.unreadMentionMessages)

	api.GET("/mentions/unread", h.unreadMentions)
	api.POST("/mentions/claim", h.claimMentions)
	api.POST("/mentions/release", h.releaseMentions)

	api.POST("/inbox", h.createInbox)
	api.GET("/inbox", h.listInbox)
	api.POST("/inbox/claim", h.claimInbox)
	api.PUT("/inbox/:id/status", h.setInboxStatus)
}

// callerID extracts the agent identity header.
func callerID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(constants.HeaderAgentID))
}

// requireCaller resolves the caller or writes a 400.
func requireCaller(c *gin.Context) (string, bool) {
	id := callerID(c)
	if id == "" {
		badRequest(c, "X-Agent-ID header is required")
		return "", false
	}
	return id, true
}

func (h *MessagingHandlers) createChannel(c *gin.Context) {
	var req dto.CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}

	channel, err := h.service.CreateChannel(c.Request.Context(), &service.CreateChannelRequest{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   callerID(c),
		EpicID:      req.EpicID,
	})
	if err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	c.JSON(http.StatusCreated, channel)
}

func (h *MessagingHandlers) listChannels(c *gin.Context) {
	channels, err := h.service.ListChannels(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	c.JSON(http.StatusOK, dto.ChannelsResponse{Channels: channels})
}

func (h *MessagingHandlers) getChannel(c *gin.Context) {
	channel, err := h.service.GetChannel(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *MessagingHandlers) listMessages(c *gin.Context) {
	limit, offset := 0, 0
	if v := c.Query("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := c.Query("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}

	messages, total, err := h.service.ListMessages(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, dto.MessagesResponse{Messages: messages, Total: total})
}

func (h *MessagingHandlers) postMessage(c *gin.Context) {
	var req dto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content is required")
		return
	}
	author := req.AuthorID
	if author == "" {
		author = callerID(c)
	}

	result, err := h.service.PostMessage(c.Request.Context(), &service.PostMessageRequest{
		ChannelID: c.Param("id"),
		AuthorID:  author,
		Content:   req.Content,
		Mentions:  req.Mentions,
		ThreadID:  req.ThreadID,
	})
	if err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *MessagingHandlers) markRead(c *gin.Context) {
	agentID, ok := requireCaller(c)
	if !ok {
		return
	}
	if err := h.service.MarkChannelRead(c.Request.Context(), agentID, c.Param("id")); err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MessagingHandlers) unreadMentionMessages(c *gin.Context) {
	agentID, ok := requireCaller(c)
	if !ok {
		return
	}
	messages, err := h.service.UnreadMentionMessages(c.Request.Context(), agentID, c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, dto.MessagesResponse{Messages: messages, Total: len(messages)})
}

func (h *MessagingHandlers) unreadMentions(c *gin.Context) {
	agentID, ok := requireCaller(c)
	if !ok {
		return
	}
	channels, err := h.service.UnreadMentions(c.Request.Context(), agentID)
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	if channels == nil {
		channels = []*models.ClaimedChannel{}
	}
	c.JSON(http.StatusOK, dto.MentionsResponse{Channels: channels})
}

func (h *MessagingHandlers) claimMentions(c *gin.Context) {
	agentID, ok := requireCaller(c)
	if !ok {
		return
	}
	claimed, err := h.service.ClaimMentions(c.Request.Context(), agentID)
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	if claimed == nil {
		claimed = []*models.ClaimedChannel{}
	}
	c.JSON(http.StatusOK, dto.MentionsResponse{Channels: claimed})
}

func (h *MessagingHandlers) releaseMentions(c *gin.Context) {
	agentID, ok := requireCaller(c)
	if !ok {
		return
	}
	var req dto.ReleaseMentionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "channelIds is required")
		return
	}
	if err := h.service.ReleaseMentionProcessing(c.Request.Context(), agentID, req.ChannelIDs); err != nil {
		handleError(c, h.logger, err, "channel not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MessagingHandlers) createInbox(c *gin.Context) {
	var req dto.CreateInboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "agentId and content are required")
		return
	}

	msg, err := h.service.CreateInboxMessage(c.Request.Context(), &service.InboxRequest{
		AgentID:          req.AgentID,
		Source:           req.Source,
		SenderName:       req.SenderName,
		ExternalThreadID: req.ExternalThreadID,
		Content:          req.Content,
	})
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *MessagingHandlers) listInbox(c *gin.Context) {
	agentID, ok := requireCaller(c)
	if !ok {
		return
	}
	messages, err := h.service.ListInboxMessages(c.Request.Context(), agentID, models.InboxStatus(c.Query("status")))
	if err != nil {
		handleError(c, h.logger, err, "inbox message not found")
		return
	}
	if messages == nil {
		messages = []*models.InboxMessage{}
	}
	c.JSON(http.StatusOK, dto.InboxResponse{Messages: messages})
}

func (h *MessagingHandlers) claimInbox(c *gin.Context) {
	agentID, ok := requireCaller(c)
	if !ok {
		return
	}
	var req dto.ClaimInboxRequest
	_ = c.ShouldBindJSON(&req) // body optional

	claimed, err := h.service.ClaimInboxMessages(c.Request.Context(), agentID, req.Limit)
	if err != nil {
		handleError(c, h.logger, err, "inbox message not found")
		return
	}
	if claimed == nil {
		claimed = []*models.InboxMessage{}
	}
	c.JSON(http.StatusOK, dto.InboxResponse{Messages: claimed})
}

func (h *MessagingHandlers) setInboxStatus(c *gin.Context) {
	var req dto.InboxStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	msg, err := h.service.SetInboxStatus(c.Request.Context(), c.Param("id"), models.InboxStatus(req.Status),
		models.InboxOutcome{ResponseText: req.ResponseText, DelegatedToTaskID: req.DelegatedToTaskID})
	if err != nil {
		handleError(c, h.logger, err, "inbox message not found")
		return
	}
	c.JSON(http.StatusOK, msg)
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
