package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a change notification published after state was persisted
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
}

// BaseDomainEvent carries the envelope fields every change event shares. Embed it
// by value and construct it with NewBaseDomainEvent.
type BaseDomainEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseDomainEvent) EventID() uuid.UUID    { return e.ID }
func (e *BaseDomainEvent) EventType() string     { return e.Type }
func (e *BaseDomainEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseDomainEvent stamps a fresh id and the current time
func NewBaseDomainEvent(eventType string) BaseDomainEvent {
	return BaseDomainEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// EventHandler consumes published events. EventTypes lists the types it wants;
// empty means every type. Handlers are compared by identity when unsubscribed, so
// implementations must be comparable (pointer receivers).
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher broadcasts events. Publishing is fire-and-forget for the caller:
// a failing subscriber never undoes the change that was announced.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is an EventPublisher that handlers can subscribe to
type EventBus interface {
	EventPublisher
	// Subscribe registers handler for eventTypes, falling back to handler.EventTypes()
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
