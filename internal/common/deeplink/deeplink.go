// Package deeplink formats dashboard URLs embedded in trigger payloads and
// outbound notifications. With no app URL configured every method returns
// the empty string and callers omit the link.
package deeplink

import "strings"

// Builder renders links under a fixed dashboard base URL.
type Builder struct {
	baseURL string
}

// NewBuilder creates a Builder for the given app URL; trailing slashes are
// trimmed.
func NewBuilder(appURL string) *Builder {
	return &Builder{baseURL: strings.TrimRight(strings.TrimSpace(appURL), "/")}
}

// Enabled reports whether an app URL is configured.
func (b *Builder) Enabled() bool {
	return b.baseURL != ""
}

// Task links to a task's detail view.
func (b *Builder) Task(taskID string) string {
	if b.baseURL == "" || taskID == "" {
		return ""
	}
	return b.baseURL + "/tasks/" + taskID
}

// Channel links to a channel's message view.
func (b *Builder) Channel(channelID string) string {
	if b.baseURL == "" || channelID == "" {
		return ""
	}
	return b.baseURL + "/channels/" + channelID
}

// Epic links to an epic's progress view.
func (b *Builder) Epic(epicID string) string {
	if b.baseURL == "" || epicID == "" {
		return ""
	}
	return b.baseURL + "/epics/" + epicID
}

// Agent links to an agent's profile view.
func (b *Builder) Agent(agentID string) string {
	if b.baseURL == "" || agentID == "" {
		return ""
	}
	return b.baseURL + "/agents/" + agentID
}
