// Package models defines the channel and inbox message types.
package models

import (
	"regexp"
	"strings"
	"time"
)

// DefaultChannelID is the fixed identifier of the channel seeded at first
// boot. Agents can rely on it existing without a lookup by name.
const (
	DefaultChannelID   = "channel-general"
	DefaultChannelName = "general"
)

// Channel is a named message stream shared by agents.
type Channel struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description,omitempty" db:"description"`
	CreatedBy     string    `json:"createdBy,omitempty" db:"created_by"`
	EpicID        string    `json:"epicId,omitempty" db:"epic_id"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt" db:"last_updated_at"`
}

// Message is one channel message. Mentions holds agent IDs, including any
// inherited from the thread parent; inherited mentions notify the mentioned
// agent but never create tasks.
type Message struct {
	ID        string    `json:"id" db:"id"`
	ChannelID string    `json:"channelId" db:"channel_id"`
	AuthorID  string    `json:"authorId,omitempty" db:"author_id"`
	Content   string    `json:"content" db:"content"`
	Mentions  []string  `json:"mentions" db:"-"`
	ThreadID  string    `json:"threadId,omitempty" db:"thread_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ReadState tracks how far an agent has read a channel. ProcessingSince is
// an advisory lock: non-nil means the agent is handling the unread tail and
// concurrent polls must skip the channel.
type ReadState struct {
	AgentID         string     `json:"agentId" db:"agent_id"`
	ChannelID       string     `json:"channelId" db:"channel_id"`
	LastReadAt      time.Time  `json:"lastReadAt" db:"last_read_at"`
	ProcessingSince *time.Time `json:"processingSince,omitempty" db:"processing_since"`
}

// ClaimedChannel is one channel won by a claimMentions call: the unread
// mention count and the read watermark the worker should process from.
type ClaimedChannel struct {
	ChannelID   string    `json:"channelId"`
	ChannelName string    `json:"channelName"`
	LastReadAt  time.Time `json:"lastReadAt"`
	Count       int       `json:"count"`
}

// InboxStatus is the per-agent inbox state machine:
// unread -> processing -> {read, responded, delegated}.
type InboxStatus string

const (
	InboxUnread     InboxStatus = "unread"
	InboxProcessing InboxStatus = "processing"
	InboxRead       InboxStatus = "read"
	InboxResponded  InboxStatus = "responded"
	InboxDelegated  InboxStatus = "delegated"
)

// IsValid returns true if the status is a known inbox status.
func (s InboxStatus) IsValid() bool {
	switch s {
	case InboxUnread, InboxProcessing, InboxRead, InboxResponded, InboxDelegated:
		return true
	}
	return false
}

// IsTerminal returns true once the message needs no further handling.
func (s InboxStatus) IsTerminal() bool {
	switch s {
	case InboxRead, InboxResponded, InboxDelegated:
		return true
	}
	return false
}

// InboxMessage is a direct per-agent message from an external source. The
// content is stored verbatim; structured blocks are exposed through the
// accessors below rather than parsed at write time. ResponseText and
// DelegatedToTaskID record the outcome of the responded and delegated
// terminal states.
type InboxMessage struct {
	ID                string      `json:"id" db:"id"`
	AgentID           string      `json:"agentId" db:"agent_id"`
	Source            string      `json:"source" db:"source"`
	SenderName        string      `json:"senderName,omitempty" db:"sender_name"`
	ExternalThreadID  string      `json:"externalThreadId,omitempty" db:"external_thread_id"`
	Content           string      `json:"content" db:"content"`
	Status            InboxStatus `json:"status" db:"status"`
	ResponseText      string      `json:"responseText,omitempty" db:"response_text"`
	DelegatedToTaskID string      `json:"delegatedToTaskId,omitempty" db:"delegated_to_task_id"`
	ProcessingSince   *time.Time  `json:"processingSince,omitempty" db:"processing_since"`
	CreatedAt         time.Time   `json:"createdAt" db:"created_at"`
	LastUpdatedAt     time.Time   `json:"lastUpdatedAt" db:"last_updated_at"`
}

// InboxOutcome carries the payload of a terminal inbox transition: the
// reply text for responded, the spawned task for delegated.
type InboxOutcome struct {
	ResponseText      string `json:"responseText"`
	DelegatedToTaskID string `json:"delegatedToTaskId"`
}

var (
	newMessageRe    = regexp.MustCompile(`(?s)<new_message>(.*?)</new_message>`)
	threadHistoryRe = regexp.MustCompile(`(?s)<thread_history>(.*?)</thread_history>`)
	mentionRe       = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9._-]*)`)
)

// NewMessageBlock extracts the <new_message> block from the content, if any.
func (m *InboxMessage) NewMessageBlock() (string, bool) {
	return matchBlock(newMessageRe, m.Content)
}

// ThreadHistoryBlock extracts the <thread_history> block from the content,
// if any.
func (m *InboxMessage) ThreadHistoryBlock() (string, bool) {
	return matchBlock(threadHistoryRe, m.Content)
}

func matchBlock(re *regexp.Regexp, content string) (string, bool) {
	match := re.FindStringSubmatch(content)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// TaskCommandPrefix marks a channel message that synthesises tasks for its
// mentioned agents.
const TaskCommandPrefix = "/task"

// IsTaskCommand returns true if the message text starts with /task.
func IsTaskCommand(content string) bool {
	trimmed := strings.TrimSpace(content)
	return trimmed == TaskCommandPrefix || strings.HasPrefix(trimmed, TaskCommandPrefix+" ")
}

// TaskCommandBody strips the /task prefix, preserving the rest verbatim.
func TaskCommandBody(content string) string {
	trimmed := strings.TrimSpace(content)
	return strings.TrimSpace(strings.TrimPrefix(trimmed, TaskCommandPrefix))
}

// ExtractMentionNames returns the distinct @name tokens in order of first
// appearance. Names are resolved to agent IDs by the caller; unknown names
// are ignored there.
func ExtractMentionNames(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, match := range matches {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
