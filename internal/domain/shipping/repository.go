package shipping

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueueStore is a durable FIFO per queue class with deduplication and an in-flight set.
// Enqueue from producers may run concurrently; there is a single consumer per class.
type QueueStore interface {
	// Enqueue appends a message unless a message with the same dedup key is already
	// queued. Returns false on a dedup no-op. Fails loudly when the store is down.
	Enqueue(ctx context.Context, class QueueClass, msg *SyncMessage) (bool, error)
	// DequeueBatch pops up to n messages from the front and moves them to in-flight
	DequeueBatch(ctx context.Context, class QueueClass, n int) ([]*SyncMessage, error)
	// Requeue atomically returns messages to the front of the queue, in order, and
	// clears them from in-flight
	Requeue(ctx context.Context, class QueueClass, msgs []*SyncMessage) error
	// RemoveInflight finalizes a message after terminal handling
	RemoveInflight(ctx context.Context, class QueueClass, msg *SyncMessage) error
	// Length returns the number of queued (not in-flight) messages
	Length(ctx context.Context, class QueueClass) (int64, error)
	// OldestEnqueuedAt returns the enqueue time of the front message, nil when empty
	OldestEnqueuedAt(ctx context.Context, class QueueClass) (*time.Time, error)
	// InflightCount returns the number of dequeued but unfinalized messages
	InflightCount(ctx context.Context, class QueueClass) (int64, error)
	// RestoreInflight returns every in-flight message to the front of the queue
	RestoreInflight(ctx context.Context, class QueueClass) (int, error)
}

// ShipmentRepository persists shipments keyed by the remote shipment id
type ShipmentRepository interface {
	// Upsert inserts or updates the shipment identified by ShipmentID and returns
	// the stored row. Re-applying the same remote state is idempotent.
	Upsert(ctx context.Context, shipment *Shipment) (*Shipment, error)
	// FindByShipmentID returns shared.ErrNotFound when absent
	FindByShipmentID(ctx context.Context, shipmentID string) (*Shipment, error)
	// FindByOrderID returns every shipment linked to a local order
	FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]Shipment, error)
	// LinkOrder attaches unlinked shipments reported for orderNumber to orderID
	LinkOrder(ctx context.Context, orderNumber string, orderID uuid.UUID) (int64, error)
}

// OrderRef identifies a local order
type OrderRef struct {
	ID          uuid.UUID
	OrderNumber string
}

// OrderLookup resolves order numbers to local orders
type OrderLookup interface {
	// FindByOrderNumber returns shared.ErrNotFound when the order is not imported
	FindByOrderNumber(ctx context.Context, orderNumber string) (*OrderRef, error)
}

// DeadLetterRepository is the append-only dead-letter store
type DeadLetterRepository interface {
	Append(ctx context.Context, failure *DeadLetterFailure) error
	// List returns failures newest first
	List(ctx context.Context, page, pageSize int) ([]DeadLetterFailure, int64, error)
}
