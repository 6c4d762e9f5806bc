// Package dto defines the request and response shapes for the epic API.
package dto

import "github.com/agentswarm/agentswarm/internal/epic/models"

// CreateEpicRequest is the request body for creating an epic.
type CreateEpicRequest struct {
	Name        string   `json:"name" binding:"required"`
	Goal        string   `json:"goal"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	Tags        []string `json:"tags"`
	LeadAgentID string   `json:"leadAgentId"`
}

// EpicStatusRequest is the request body for an epic status transition.
type EpicStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// EpicsResponse is the list envelope for epics.
type EpicsResponse struct {
	Epics []*models.Epic `json:"epics"`
}
