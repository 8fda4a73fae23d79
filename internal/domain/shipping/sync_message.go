package shipping

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSyncMessage is returned when a message carries neither an order number
	// nor a tracking number
	ErrInvalidSyncMessage = errors.New("shipping: sync message has neither order number nor tracking number")
	// ErrUnknownSyncReason is returned for a reason outside the closed set
	ErrUnknownSyncReason = errors.New("shipping: unknown sync reason")
	// ErrUnknownQueueClass is returned for a queue class outside the closed set
	ErrUnknownQueueClass = errors.New("shipping: unknown queue class")
)

// QueueClass identifies one durable FIFO
type QueueClass string

const (
	// QueueShipmentSync holds requests to pull shipment state from the carrier platform
	QueueShipmentSync QueueClass = "shipment-sync"
	// QueueOrderImport holds requests to import an order from the order platform
	QueueOrderImport QueueClass = "order-import"
)

// IsValid returns true if the queue class is known
func (c QueueClass) IsValid() bool {
	switch c {
	case QueueShipmentSync, QueueOrderImport:
		return true
	default:
		return false
	}
}

// String returns the string representation of QueueClass
func (c QueueClass) String() string {
	return string(c)
}

// ParseQueueClass converts a string to a QueueClass
func ParseQueueClass(s string) (QueueClass, error) {
	c := QueueClass(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", ErrUnknownQueueClass
	}
	return c, nil
}

// AllQueueClasses returns every queue class
func AllQueueClasses() []QueueClass {
	return []QueueClass{QueueShipmentSync, QueueOrderImport}
}

// SyncReason is the closed set of triggers that may put a message on a queue
type SyncReason string

const (
	// ReasonShipmentWebhook is a carrier "shipment changed" notification
	ReasonShipmentWebhook SyncReason = "shipment_webhook"
	// ReasonLabelCreated is a label purchase observed by a producer
	ReasonLabelCreated SyncReason = "label_created"
	// ReasonTrackingUpdate is a carrier tracking event
	ReasonTrackingUpdate SyncReason = "tracking_update"
	// ReasonBackfillJob is a periodic backfill poller
	ReasonBackfillJob SyncReason = "backfill_job"
	// ReasonManualResync is an operator-initiated resync
	ReasonManualResync SyncReason = "manual_resync"
	// ReasonOrderImported follows a successful order import so unlinked shipments get linked
	ReasonOrderImported SyncReason = "order_imported"
	// ReasonOrderNotFound requests an import for an order-number sync that found no local order
	ReasonOrderNotFound SyncReason = "order_not_found"
	// ReasonUnlinkedShipment requests an import for a shipment persisted without a local order
	ReasonUnlinkedShipment SyncReason = "unlinked_shipment"
)

// IsValid returns true if the reason is part of the closed set
func (r SyncReason) IsValid() bool {
	switch r {
	case ReasonShipmentWebhook, ReasonLabelCreated, ReasonTrackingUpdate,
		ReasonBackfillJob, ReasonManualResync, ReasonOrderImported,
		ReasonOrderNotFound, ReasonUnlinkedShipment:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncReason
func (r SyncReason) String() string {
	return string(r)
}

// ParseSyncReason converts a string to a SyncReason
func ParseSyncReason(s string) (SyncReason, error) {
	r := SyncReason(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", ErrUnknownSyncReason
	}
	return r, nil
}

// SyncMessage is the queue wire format. Messages may arrive malformed; validity is
// checked when the message is resolved, not when it is constructed.
type SyncMessage struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber,omitempty"`
	TrackingNumber  string          `json:"trackingNumber,omitempty"`
	LabelURL        string          `json:"labelUrl,omitempty"`
	ShipmentID      string          `json:"shipmentId,omitempty"`
	Reason          SyncReason      `json:"reason"`
	RetryCount      int             `json:"retryCount"`
	EnqueuedAt      time.Time       `json:"enqueuedAt"`
	OriginalPayload json.RawMessage `json:"originalPayload,omitempty"`
}

// NewSyncMessage creates a message with a fresh id and enqueue timestamp
func NewSyncMessage(reason SyncReason) *SyncMessage {
	return &SyncMessage{
		ID:         uuid.New().String(),
		Reason:     reason,
		EnqueuedAt: time.Now(),
	}
}

// WithOrderNumber sets the order number
func (m *SyncMessage) WithOrderNumber(orderNumber string) *SyncMessage {
	m.OrderNumber = strings.TrimSpace(orderNumber)
	return m
}

// WithTrackingNumber sets the tracking number
func (m *SyncMessage) WithTrackingNumber(trackingNumber string) *SyncMessage {
	m.TrackingNumber = strings.TrimSpace(trackingNumber)
	return m
}

// WithShipmentID sets the remote shipment id
func (m *SyncMessage) WithShipmentID(shipmentID string) *SyncMessage {
	m.ShipmentID = strings.TrimSpace(shipmentID)
	return m
}

// DedupKey returns the compound (identity, reason) key. Identity prefers the remote
// shipment id, then the tracking number, then the order number. A message without any
// identity is keyed by its own id so it is never merged with another.
func (m *SyncMessage) DedupKey() string {
	var identity string
	switch {
	case m.ShipmentID != "":
		identity = "shipment:" + m.ShipmentID
	case m.TrackingNumber != "":
		identity = "tracking:" + m.TrackingNumber
	case m.OrderNumber != "":
		identity = "order:" + m.OrderNumber
	default:
		identity = "message:" + m.ID
	}
	return identity + "|" + string(m.Reason)
}

// NextRetry returns a copy with the retry counter incremented
func (m *SyncMessage) NextRetry() *SyncMessage {
	next := *m
	next.RetryCount++
	return &next
}

// Target builds the resolution target. The tracking number wins when both are present.
func (m *SyncMessage) Target() (SyncTarget, error) {
	if tn := strings.TrimSpace(m.TrackingNumber); tn != "" {
		return ByTracking{TrackingNumber: tn}, nil
	}
	if on := strings.TrimSpace(m.OrderNumber); on != "" {
		return ByOrder{OrderNumber: on}, nil
	}
	return nil, ErrInvalidSyncMessage
}

// SyncTarget is the sealed sum of resolution paths: ByTracking or ByOrder
type SyncTarget interface {
	isSyncTarget()
	String() string
}

// ByTracking resolves a message by looking the shipment up by tracking number
type ByTracking struct {
	TrackingNumber string
}

func (ByTracking) isSyncTarget() {}

// String returns a log-friendly description
func (t ByTracking) String() string {
	return "tracking:" + t.TrackingNumber
}

// ByOrder resolves a message by listing the shipments of an order
type ByOrder struct {
	OrderNumber string
}

func (ByOrder) isSyncTarget() {}

// String returns a log-friendly description
func (t ByOrder) String() string {
	return "order:" + t.OrderNumber
}
