package dto

import (
	"encoding/json"
	"time"

	"github.com/shipsync/backend/internal/domain/shipping"
)

// ShipmentWebhookRequest is a producer request to sync a shipment. At least one of
// order number and tracking number is required.
type ShipmentWebhookRequest struct {
	OrderNumber     string          `json:"orderNumber" binding:"required_without=TrackingNumber,max=64"`
	TrackingNumber  string          `json:"trackingNumber" binding:"required_without=OrderNumber,max=64"`
	LabelURL        string          `json:"labelUrl" binding:"omitempty,url"`
	ShipmentID      string          `json:"shipmentId" binding:"max=64"`
	Reason          string          `json:"reason" binding:"required"`
	OriginalPayload json.RawMessage `json:"originalPayload"`
}

// ToMessage converts the request into a queue message. The reason must belong to
// the closed set.
func (r *ShipmentWebhookRequest) ToMessage() (*shipping.SyncMessage, error) {
	reason, err := shipping.ParseSyncReason(r.Reason)
	if err != nil {
		return nil, err
	}
	msg := shipping.NewSyncMessage(reason).
		WithOrderNumber(r.OrderNumber).
		WithTrackingNumber(r.TrackingNumber).
		WithShipmentID(r.ShipmentID)
	msg.LabelURL = r.LabelURL
	msg.OriginalPayload = r.OriginalPayload
	if _, err := msg.Target(); err != nil {
		return nil, err
	}
	return msg, nil
}

// EnqueueResponse reports the outcome of a webhook enqueue
type EnqueueResponse struct {
	MessageID    string `json:"message_id,omitempty"`
	Queue        string `json:"queue"`
	Deduplicated bool   `json:"deduplicated"`
}

// CoordinatorStatus mirrors a coordinator snapshot
type CoordinatorStatus struct {
	Running   bool       `json:"running"`
	LastRunID int64      `json:"last_run_id"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Skipped   int64      `json:"skipped"`
}

// QueueStatusResponse describes one queue class
type QueueStatusResponse struct {
	Queue       string             `json:"queue"`
	Length      int64              `json:"length"`
	Inflight    int64              `json:"inflight"`
	OldestAt    *time.Time         `json:"oldest_enqueued_at,omitempty"`
	Coordinator *CoordinatorStatus `json:"coordinator,omitempty"`
}

// RestoreInflightResponse reports how many stranded messages went back to the queue
type RestoreInflightResponse struct {
	Queue    string `json:"queue"`
	Restored int    `json:"restored"`
}

// DeadLetterResponse is one dead-lettered message
type DeadLetterResponse struct {
	ID               string          `json:"id"`
	Queue            string          `json:"queue"`
	MessageID        string          `json:"message_id"`
	OrderNumber      string          `json:"order_number,omitempty"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	ShipmentID       string          `json:"shipment_id,omitempty"`
	Reason           string          `json:"reason"`
	ErrorMessage     string          `json:"error_message"`
	RequestSnapshot  json.RawMessage `json:"request_snapshot,omitempty"`
	ResponseSnapshot json.RawMessage `json:"response_snapshot,omitempty"`
	RetryCount       int             `json:"retry_count"`
	FailedAt         time.Time       `json:"failed_at"`
}

// NewDeadLetterResponse converts a domain failure
func NewDeadLetterResponse(f *shipping.DeadLetterFailure) DeadLetterResponse {
	return DeadLetterResponse{
		ID:               f.ID.String(),
		Queue:            f.Queue.String(),
		MessageID:        f.MessageID,
		OrderNumber:      f.OrderNumber,
		TrackingNumber:   f.TrackingNumber,
		ShipmentID:       f.ShipmentID,
		Reason:           f.Reason.String(),
		ErrorMessage:     f.ErrorMessage,
		RequestSnapshot:  f.RequestSnapshot,
		ResponseSnapshot: f.ResponseSnapshot,
		RetryCount:       f.RetryCount,
		FailedAt:         f.FailedAt,
	}
}
