package lifecycle

import (
	"github.com/google/uuid"

	"github.com/shipsync/backend/internal/domain/shared"
)

// EventTypeSideEffectRequested is published when an order enters a stage that unlocks automation
const EventTypeSideEffectRequested = "side_effect_requested"

// SideEffectRequestedEvent asks downstream automation to run for one order
type SideEffectRequestedEvent struct {
	shared.BaseDomainEvent
	OrderID     uuid.UUID  `json:"order_id"`
	OrderNumber string     `json:"order_number"`
	Effect      SideEffect `json:"effect"`
	Stage       string     `json:"stage"`
}

// NewSideEffectRequestedEvent creates a side-effect request for order at stage
func NewSideEffectRequestedEvent(order *Order, stage Stage) *SideEffectRequestedEvent {
	return &SideEffectRequestedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSideEffectRequested),
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		Effect:          stage.SideEffect(),
		Stage:           stage.String(),
	}
}

var _ shared.DomainEvent = (*SideEffectRequestedEvent)(nil)
