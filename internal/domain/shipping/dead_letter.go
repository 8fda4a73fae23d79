package shipping

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetterFailure is an immutable record of a message that could not be handled.
// It is kept for operator triage and never re-driven automatically.
type DeadLetterFailure struct {
	ID               uuid.UUID
	Queue            QueueClass
	MessageID        string
	OrderNumber      string
	TrackingNumber   string
	ShipmentID       string
	Reason           SyncReason
	ErrorMessage     string
	RequestSnapshot  json.RawMessage
	ResponseSnapshot json.RawMessage
	RetryCount       int
	FailedAt         time.Time
}

// NewDeadLetterFailure captures a failed message with its request/response context
func NewDeadLetterFailure(queue QueueClass, msg *SyncMessage, errMsg string, request, response json.RawMessage) *DeadLetterFailure {
	return &DeadLetterFailure{
		ID:               uuid.New(),
		Queue:            queue,
		MessageID:        msg.ID,
		OrderNumber:      msg.OrderNumber,
		TrackingNumber:   msg.TrackingNumber,
		ShipmentID:       msg.ShipmentID,
		Reason:           msg.Reason,
		ErrorMessage:     errMsg,
		RequestSnapshot:  request,
		ResponseSnapshot: response,
		RetryCount:       msg.RetryCount,
		FailedAt:         time.Now(),
	}
}
