// Package dto holds the wire types for the task HTTP API. Task payloads
// serialise straight from the domain model; only list envelopes and request
// bodies need dedicated types.
package dto

import (
	"github.com/agentswarm/agentswarm/internal/task/models"
)

// ListTasksResponse wraps task lists with the unpaginated total.
type ListTasksResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Total int            `json:"total"`
}
