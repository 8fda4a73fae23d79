package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shipsync/backend/internal/domain/shipping"
)

var (
	ErrOrderNumberRequired = errors.New("lifecycle: order number is required")
	ErrStageRegression     = errors.New("lifecycle: stage regression rejected")
)

// Order is a local fulfillment order. Its stage only moves forward.
type Order struct {
	ID                  uuid.UUID
	OrderNumber         string
	PlatformStatus      string
	ItemCount           int
	Stage               Stage
	ItemsHydrated       bool
	ItemsCategorized    bool
	FingerprintComputed bool
	PackagingAssigned   bool
	RateChecked         bool
	SessionAssigned     bool
	PickStarted         bool
	PickCompleted       bool
	LifecycleUpdatedAt  *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewImportedOrder creates an order that has just been imported from the order platform
func NewImportedOrder(remote *shipping.RemoteOrder) (*Order, error) {
	number := strings.TrimSpace(remote.OrderNumber)
	if number == "" {
		return nil, ErrOrderNumberRequired
	}
	now := time.Now()
	itemCount := 0
	for _, item := range remote.Items {
		itemCount += item.Quantity
	}
	return &Order{
		ID:             uuid.New(),
		OrderNumber:    number,
		PlatformStatus: remote.Status,
		ItemCount:      itemCount,
		Stage:          NewStage(PhaseReadyToFulfill, SubphaseNone),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Facts assembles evaluation facts from the order and its shipments
func (o *Order) Facts(shipments []shipping.Shipment) Facts {
	return Facts{
		HasItems:            o.ItemCount > 0,
		ItemsHydrated:       o.ItemsHydrated,
		ItemsCategorized:    o.ItemsCategorized,
		FingerprintComputed: o.FingerprintComputed,
		PackagingAssigned:   o.PackagingAssigned,
		RateChecked:         o.RateChecked,
		SessionAssigned:     o.SessionAssigned,
		PickStarted:         o.PickStarted,
		PickCompleted:       o.PickCompleted,
		Shipments:           shipments,
	}
}

// Ref returns the shipping-side reference of the order
func (o *Order) Ref() *shipping.OrderRef {
	return &shipping.OrderRef{ID: o.ID, OrderNumber: o.OrderNumber}
}

// OrderRepository persists orders and their lifecycle stage
type OrderRepository interface {
	// FindByID returns shared.ErrNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// FindByOrderNumber returns shared.ErrNotFound when absent
	FindByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)
	// SaveStage writes next only if it is not behind the stored stage. It returns
	// false without error when the stored stage is already ahead.
	SaveStage(ctx context.Context, id uuid.UUID, next Stage) (bool, error)
	// UpsertImported inserts an imported order or refreshes platform fields of an
	// existing one; the stage of an existing order is never touched.
	UpsertImported(ctx context.Context, order *Order) (*Order, bool, error)
}
