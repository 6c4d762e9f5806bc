// Package ingress holds the kernel-side halves of the event adapters: the
// normalized event shape they hand over, the dedup and rate-limit state
// shared by webhook delivery, and the ingestion path that turns an event
// into a task or inbox message.
package ingress

import (
	"errors"
	"fmt"

	taskmodels "github.com/agentswarm/agentswarm/internal/task/models"
)

// Kind discriminates the adapter families.
type Kind string

const (
	KindChat   Kind = "chat"
	KindGithub Kind = "github"
	KindMail   Kind = "mail"
)

// Event is a fully normalized external event. Adapters verify authenticity
// and flatten their payloads into this shape before handing it to the
// Ingestor.
type Event struct {
	Kind Kind `json:"kind"`

	// EventID is the upstream delivery id; the dedup window is keyed on it.
	EventID string `json:"eventId"`

	// SenderKey identifies the upstream sender for rate limiting.
	SenderKey  string `json:"senderKey"`
	SenderName string `json:"senderName"`

	// AgentName addresses the target agent by registry name.
	AgentName string `json:"agentName"`

	Content string `json:"content"`

	// TaskCommand requests a task instead of an inbox message.
	TaskCommand bool `json:"taskCommand"`
	Priority    int  `json:"priority"`

	// Origin references, per kind.
	SlackChannel      string `json:"slackChannel,omitempty"`
	SlackTs           string `json:"slackTs,omitempty"`
	GithubRepo        string `json:"githubRepo,omitempty"`
	GithubIssueNumber int    `json:"githubIssueNumber,omitempty"`
	MailThreadID      string `json:"mailThreadId,omitempty"`
}

// Validate checks the fields every ingestion path needs.
func (e *Event) Validate() error {
	switch e.Kind {
	case KindChat, KindGithub, KindMail:
	default:
		return fmt.Errorf("unknown ingress kind: %q", e.Kind)
	}
	if e.EventID == "" {
		return errors.New("eventId is required")
	}
	if e.AgentName == "" {
		return errors.New("agentName is required")
	}
	if e.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// TaskSource maps the adapter family onto the task source domain.
func (e *Event) TaskSource() taskmodels.TaskSource {
	switch e.Kind {
	case KindChat:
		return taskmodels.SourceSlack
	case KindGithub:
		return taskmodels.SourceGithub
	case KindMail:
		return taskmodels.SourceAgentMail
	default:
		return taskmodels.SourceAPI
	}
}

// ExternalThreadID is the upstream conversation handle a reply should be
// threaded onto, when the adapter family has one.
func (e *Event) ExternalThreadID() string {
	switch e.Kind {
	case KindChat:
		return e.SlackTs
	case KindMail:
		return e.MailThreadID
	default:
		return ""
	}
}

// DedupKey is the cache key for the delivery window.
func (e *Event) DedupKey() string {
	return string(e.Kind) + ":" + e.EventID
}
