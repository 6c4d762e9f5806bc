// Package bus abstracts the kernel's event fabric. Services publish domain
// events to subjects without knowing who consumes them; the WebSocket
// gateway and any NATS-attached processes subscribe.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the unit carried on the bus. Data is a flat string-keyed map so
// payloads survive the JSON hop through NATS unchanged.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // component that produced the event
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a fresh event with a UUID and UTC timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one event. A returned error is logged by the bus;
// delivery is not retried.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a handle on an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is implemented by the in-memory bus and the NATS bus. Subjects
// are dotted names with NATS wildcard matching: * spans one token, > spans
// the rest.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error

	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe delivers each event to one member of the queue group.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Request publishes and waits for a reply on an inbox subject.
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	Close()

	IsConnected() bool
}
