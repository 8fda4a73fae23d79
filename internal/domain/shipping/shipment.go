package shipping

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ShipmentStatus is the carrier platform's view of a shipment
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusOnHold    ShipmentStatus = "on_hold"
	ShipmentStatusShipped   ShipmentStatus = "shipped"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
	ShipmentStatusUnknown   ShipmentStatus = "unknown"
)

// ParseShipmentStatus maps a remote status string onto ShipmentStatus.
// Unrecognized values map to ShipmentStatusUnknown.
func ParseShipmentStatus(s string) ShipmentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "awaiting_shipment", "awaiting_payment", "processing":
		return ShipmentStatusPending
	case "on_hold", "onhold", "hold":
		return ShipmentStatusOnHold
	case "shipped", "label_created", "label_purchased":
		return ShipmentStatusShipped
	case "in_transit", "intransit", "out_for_delivery":
		return ShipmentStatusInTransit
	case "delivered":
		return ShipmentStatusDelivered
	case "cancelled", "canceled", "voided":
		return ShipmentStatusCancelled
	default:
		return ShipmentStatusUnknown
	}
}

// IsHeld returns true while the remote platform may still be mutating the shipment
func (s ShipmentStatus) IsHeld() bool {
	return s == ShipmentStatusOnHold
}

// Shipment mirrors one remote shipment. Identity is the external ShipmentID;
// TrackingNumber is not unique and is never used as an upsert key.
type Shipment struct {
	ShipmentID        string
	OrderID           *uuid.UUID
	OrderNumber       string
	TrackingNumber    string
	CarrierCode       string
	ServiceCode       string
	Status            ShipmentStatus
	StatusDescription string
	ShipDate          *time.Time
	ShipmentCost      decimal.Decimal
	LabelURL          string
	RawPayload        json.RawMessage

	// Hold bookkeeping, maintained by MergeRemote
	FirstObservedAt time.Time
	HoldObservedAt  *time.Time
	HoldReleasedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasIdentity returns true if the remote shipment identifier is present
func (s *Shipment) HasIdentity() bool {
	return strings.TrimSpace(s.ShipmentID) != ""
}

// IsLinked returns true if the shipment is attached to a local order
func (s *Shipment) IsLinked() bool {
	return s.OrderID != nil && *s.OrderID != uuid.Nil
}

// MergeRemote folds freshly fetched remote state into the stored row (nil when the
// shipment is new) and returns the row to persist. Order linkage only moves from
// unset to set; a resync that failed to link never clears an existing link.
func MergeRemote(existing *Shipment, remote Shipment, now time.Time) Shipment {
	merged := remote
	merged.UpdatedAt = now

	if existing == nil {
		merged.CreatedAt = now
		merged.FirstObservedAt = now
		if remote.Status.IsHeld() {
			merged.HoldObservedAt = &now
		}
		return merged
	}

	merged.CreatedAt = existing.CreatedAt
	merged.FirstObservedAt = existing.FirstObservedAt
	merged.HoldObservedAt = existing.HoldObservedAt
	merged.HoldReleasedAt = existing.HoldReleasedAt

	if !merged.IsLinked() && existing.IsLinked() {
		merged.OrderID = existing.OrderID
	}
	if merged.LabelURL == "" {
		merged.LabelURL = existing.LabelURL
	}

	if remote.Status.IsHeld() && merged.HoldObservedAt == nil {
		merged.HoldObservedAt = &now
	}
	if existing.Status.IsHeld() && remote.Status == ShipmentStatusPending {
		merged.HoldReleasedAt = &now
	}

	return merged
}
