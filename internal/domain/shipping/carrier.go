package shipping

import (
	"context"
	"encoding/json"
	"errors"
)

// ---------------------------------------------------------------------------
// Remote platform errors
// ---------------------------------------------------------------------------

var (
	ErrCarrierNotConfigured   = errors.New("shipping: carrier platform not configured")
	ErrCarrierUnavailable     = errors.New("shipping: carrier platform temporarily unavailable")
	ErrCarrierRequestFailed   = errors.New("shipping: carrier platform request failed")
	ErrCarrierInvalidResponse = errors.New("shipping: invalid carrier platform response")
	ErrCarrierAuthFailed      = errors.New("shipping: carrier platform authentication failed")
	ErrCarrierRateLimited     = errors.New("shipping: carrier platform rate limited")
	ErrShipmentNotFound       = errors.New("shipping: no shipment found on carrier platform")
)

// ShipmentLookup is the result of one remote shipment query
type ShipmentLookup struct {
	Shipments []Shipment
	RateLimit RateLimitWindow
	// Raw is the response body as received, kept for dead-letter snapshots
	Raw json.RawMessage
}

// CarrierPlatform is the carrier-management platform.
//
// Every call returns a non-nil lookup carrying the rate-limit window whenever a
// response was received, including when err is non-nil, so the caller can account
// for the spent quota.
type CarrierPlatform interface {
	// ShipmentsByTracking looks up shipments carrying the tracking number
	ShipmentsByTracking(ctx context.Context, trackingNumber string) (*ShipmentLookup, error)
	// ShipmentsByOrder lists every shipment of an order
	ShipmentsByOrder(ctx context.Context, orderNumber string) (*ShipmentLookup, error)
}

// ---------------------------------------------------------------------------
// Order platform
// ---------------------------------------------------------------------------

var (
	ErrOrderPlatformUnavailable = errors.New("shipping: order platform temporarily unavailable")
	ErrOrderPlatformFailed      = errors.New("shipping: order platform request failed")
	ErrOrderPlatformRateLimited = errors.New("shipping: order platform rate limited")
	ErrRemoteOrderNotFound      = errors.New("shipping: order not found on order platform")
)

// RemoteOrderItem is one line of an order as reported by the order platform
type RemoteOrderItem struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// RemoteOrder is an order as reported by the order platform
type RemoteOrder struct {
	OrderNumber string            `json:"order_number"`
	Status      string            `json:"status"`
	Items       []RemoteOrderItem `json:"items"`
	Raw         json.RawMessage   `json:"-"`
}

// OrderFetch is the result of one order platform call
type OrderFetch struct {
	Order     *RemoteOrder
	RateLimit RateLimitWindow
	Raw       json.RawMessage
}

// OrderPlatform is the platform orders are imported from. Like CarrierPlatform it
// returns the rate-limit window with every received response.
type OrderPlatform interface {
	FetchOrder(ctx context.Context, orderNumber string) (*OrderFetch, error)
}
