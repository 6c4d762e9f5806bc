// Package dto provides the wire types for the agent registry API.
package dto

import (
	"github.com/agentswarm/agentswarm/internal/agent/models"
)

// RegisterAgentRequest is the POST /api/agents body. The X-Agent-ID header,
// when present, pins the agent ID for idempotent re-registration.
type RegisterAgentRequest struct {
	Name         string   `json:"name" binding:"required"`
	IsLead       bool     `json:"isLead"`
	Role         string   `json:"role"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	MaxTasks     int      `json:"maxTasks"`

	ClaudeMd    string `json:"claudeMd"`
	SoulMd      string `json:"soulMd"`
	IdentityMd  string `json:"identityMd"`
	SetupScript string `json:"setupScript"`
	ToolsMd     string `json:"toolsMd"`
}

// UpdateProfileRequest coalesces: absent fields stay untouched, present
// fields overwrite (and version, for persona documents).
type UpdateProfileRequest struct {
	Role         *string   `json:"role"`
	Description  *string   `json:"description"`
	Capabilities *[]string `json:"capabilities"`
	MaxTasks     *int      `json:"maxTasks"`

	ClaudeMd    *string `json:"claudeMd"`
	SoulMd      *string `json:"soulMd"`
	IdentityMd  *string `json:"identityMd"`
	SetupScript *string `json:"setupScript"`
	ToolsMd     *string `json:"toolsMd"`

	ChangeSource     string `json:"changeSource"`
	ChangedByAgentID string `json:"changedByAgentId"`
	ChangeReason     string `json:"changeReason"`
}

// ListAgentsResponse wraps agent lists.
type ListAgentsResponse struct {
	Agents []*models.Agent `json:"agents"`
}

// ContextVersionsResponse wraps persona version history.
type ContextVersionsResponse struct {
	Versions []*models.ContextVersion `json:"versions"`
}

// UpdateProfileResponse returns the updated agent and the versions the
// update created.
type UpdateProfileResponse struct {
	Agent       *models.Agent            `json:"agent"`
	NewVersions []*models.ContextVersion `json:"newVersions"`
}
