package shipping

import (
	"time"

	"github.com/shipsync/backend/internal/domain/shared"
)

// Change-broadcast event types
const (
	EventTypeOrderUpdate = "order_update"
	EventTypeQueueStatus = "queue_status"
)

// ChangeEvent is pushed to the change broadcaster for UI fan-out
type ChangeEvent struct {
	shared.BaseDomainEvent
	Payload any `json:"payload"`
}

// OrderUpdatePayload describes a lifecycle or shipment change of one order
type OrderUpdatePayload struct {
	OrderID     string   `json:"order_id"`
	OrderNumber string   `json:"order_number"`
	Phase       string   `json:"phase"`
	Subphase    string   `json:"subphase,omitempty"`
	ShipmentIDs []string `json:"shipment_ids,omitempty"`
}

// QueueStatusPayload describes a queue after a batch
type QueueStatusPayload struct {
	Queue            string     `json:"queue"`
	Length           int64      `json:"length"`
	Inflight         int64      `json:"inflight"`
	OldestEnqueuedAt *time.Time `json:"oldest_enqueued_at,omitempty"`
	Processed        int        `json:"processed"`
	Requeued         int        `json:"requeued"`
	RateLimited      bool       `json:"rate_limited"`
}

// NewOrderUpdateEvent creates an order_update event
func NewOrderUpdateEvent(payload OrderUpdatePayload) *ChangeEvent {
	return &ChangeEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderUpdate),
		Payload:         payload,
	}
}

// NewQueueStatusEvent creates a queue_status event
func NewQueueStatusEvent(payload QueueStatusPayload) *ChangeEvent {
	return &ChangeEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeQueueStatus),
		Payload:         payload,
	}
}

var _ shared.DomainEvent = (*ChangeEvent)(nil)
