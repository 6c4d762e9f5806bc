// Package models defines the agent registry domain types.
package models

import "time"

// AgentStatus is derived from capacity: busy iff the agent has in_progress
// work, offline only through an explicit close.
type AgentStatus string

const (
	StatusIdle    AgentStatus = "idle"
	StatusBusy    AgentStatus = "busy"
	StatusOffline AgentStatus = "offline"
)

// Persona field names as stored in context version history.
const (
	FieldClaudeMd    = "claude_md"
	FieldSoulMd      = "soul_md"
	FieldIdentityMd  = "identity_md"
	FieldSetupScript = "setup_script"
	FieldToolsMd     = "tools_md"
)

// PersonaFields lists every versioned persona field.
var PersonaFields = []string{FieldClaudeMd, FieldSoulMd, FieldIdentityMd, FieldSetupScript, FieldToolsMd}

// Agent is one registered worker identity.
type Agent struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	IsLead         bool        `json:"isLead"`
	Status         AgentStatus `json:"status"`
	MaxTasks       int         `json:"maxTasks"`
	EmptyPollCount int         `json:"emptyPollCount"`

	Role         string   `json:"role,omitempty"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// Persona documents injected into the worker's runtime context.
	ClaudeMd    string `json:"claudeMd,omitempty"`
	SoulMd      string `json:"soulMd,omitempty"`
	IdentityMd  string `json:"identityMd,omitempty"`
	SetupScript string `json:"setupScript,omitempty"`
	ToolsMd     string `json:"toolsMd,omitempty"`

	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// PersonaField returns the current content of the named persona field.
func (a *Agent) PersonaField(field string) string {
	switch field {
	case FieldClaudeMd:
		return a.ClaudeMd
	case FieldSoulMd:
		return a.SoulMd
	case FieldIdentityMd:
		return a.IdentityMd
	case FieldSetupScript:
		return a.SetupScript
	case FieldToolsMd:
		return a.ToolsMd
	}
	return ""
}

// ContextVersion is one immutable revision of a persona field.
type ContextVersion struct {
	ID                string    `json:"id"`
	AgentID           string    `json:"agentId"`
	Field             string    `json:"field"`
	Version           int       `json:"version"`
	Content           string    `json:"content"`
	ContentHash       string    `json:"contentHash"`
	ChangeSource      string    `json:"changeSource"`
	ChangedByAgentID  string    `json:"changedByAgentId,omitempty"`
	ChangeReason      string    `json:"changeReason,omitempty"`
	PreviousVersionID string    `json:"previousVersionId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ProfileUpdate mutates an agent's profile. Nil pointers leave the field
// unchanged; empty strings overwrite.
type ProfileUpdate struct {
	Role         *string
	Description  *string
	Capabilities *[]string
	MaxTasks     *int

	ClaudeMd    *string
	SoulMd      *string
	IdentityMd  *string
	SetupScript *string
	ToolsMd     *string

	// ChangeSource tags the resulting context versions; defaults to "api".
	// ChangedByAgentID and ChangeReason attribute the edit when an agent
	// rewrites another agent's persona.
	ChangeSource     string
	ChangedByAgentID string
	ChangeReason     string
}

// PersonaUpdates returns the persona fields present in the update, keyed by
// field name.
func (u *ProfileUpdate) PersonaUpdates() map[string]*string {
	return map[string]*string{
		FieldClaudeMd:    u.ClaudeMd,
		FieldSoulMd:      u.SoulMd,
		FieldIdentityMd:  u.IdentityMd,
		FieldSetupScript: u.SetupScript,
		FieldToolsMd:     u.ToolsMd,
	}
}
