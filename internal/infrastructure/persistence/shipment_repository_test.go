package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteShipment(id, orderNumber string, status shipping.ShipmentStatus) *shipping.Shipment {
	return &shipping.Shipment{
		ShipmentID:     id,
		OrderNumber:    orderNumber,
		TrackingNumber: "1Z" + id,
		CarrierCode:    "ups",
		ServiceCode:    "ups_ground",
		Status:         status,
		ShipmentCost:   decimal.NewFromFloat(12.5),
		LabelURL:       "https://labels.example.com/" + id + ".pdf",
		RawPayload:     json.RawMessage(`{"shipmentId":"` + id + `"}`),
	}
}

func TestShipmentRepository_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts new shipment with observation time", func(t *testing.T) {
		repo := NewShipmentRepository(setupTestDB(t))

		stored, err := repo.Upsert(ctx, remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusShipped))
		require.NoError(t, err)
		assert.False(t, stored.FirstObservedAt.IsZero())
		assert.Nil(t, stored.OrderID)

		found, err := repo.FindByShipmentID(ctx, "se-1")
		require.NoError(t, err)
		assert.Equal(t, "ORD-1", found.OrderNumber)
		assert.Equal(t, shipping.ShipmentStatusShipped, found.Status)
		assert.True(t, decimal.NewFromFloat(12.5).Equal(found.ShipmentCost))
		assert.JSONEq(t, `{"shipmentId":"se-1"}`, string(found.RawPayload))
	})

	t.Run("reapplying the same remote state keeps one row", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewShipmentRepository(db)

		_, err := repo.Upsert(ctx, remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusShipped))
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusShipped))
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Model(&ShipmentModel{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("shared tracking number does not merge distinct shipments", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewShipmentRepository(db)

		first := remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusShipped)
		second := remoteShipment("se-2", "ORD-1", shipping.ShipmentStatusShipped)
		second.TrackingNumber = first.TrackingNumber

		_, err := repo.Upsert(ctx, first)
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, second)
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Model(&ShipmentModel{}).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("an unlinked resync keeps the existing order link", func(t *testing.T) {
		repo := NewShipmentRepository(setupTestDB(t))
		orderID := uuid.New()

		linked := remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusShipped)
		linked.OrderID = &orderID
		_, err := repo.Upsert(ctx, linked)
		require.NoError(t, err)

		stored, err := repo.Upsert(ctx, remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusInTransit))
		require.NoError(t, err)
		require.NotNil(t, stored.OrderID)
		assert.Equal(t, orderID, *stored.OrderID)

		found, err := repo.FindByShipmentID(ctx, "se-1")
		require.NoError(t, err)
		require.NotNil(t, found.OrderID)
		assert.Equal(t, orderID, *found.OrderID)
		assert.Equal(t, shipping.ShipmentStatusInTransit, found.Status)
	})

	t.Run("records hold observation and release", func(t *testing.T) {
		repo := NewShipmentRepository(setupTestDB(t))

		held, err := repo.Upsert(ctx, remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusOnHold))
		require.NoError(t, err)
		require.NotNil(t, held.HoldObservedAt)
		assert.Nil(t, held.HoldReleasedAt)

		released, err := repo.Upsert(ctx, remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusPending))
		require.NoError(t, err)
		require.NotNil(t, released.HoldReleasedAt)

		found, err := repo.FindByShipmentID(ctx, "se-1")
		require.NoError(t, err)
		assert.NotNil(t, found.HoldObservedAt)
		assert.NotNil(t, found.HoldReleasedAt)
		assert.WithinDuration(t, held.FirstObservedAt, found.FirstObservedAt, time.Millisecond)
	})

	t.Run("rejects shipment without id", func(t *testing.T) {
		repo := NewShipmentRepository(setupTestDB(t))

		_, err := repo.Upsert(ctx, remoteShipment("", "ORD-1", shipping.ShipmentStatusShipped))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}

func TestShipmentRepository_FindByShipmentID_NotFound(t *testing.T) {
	repo := NewShipmentRepository(setupTestDB(t))

	_, err := repo.FindByShipmentID(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestShipmentRepository_LinkOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewShipmentRepository(setupTestDB(t))

	otherOrder := uuid.New()
	alreadyLinked := remoteShipment("se-3", "ORD-1", shipping.ShipmentStatusShipped)
	alreadyLinked.OrderID = &otherOrder

	for _, s := range []*shipping.Shipment{
		remoteShipment("se-1", "ORD-1", shipping.ShipmentStatusShipped),
		remoteShipment("se-2", "ORD-1", shipping.ShipmentStatusInTransit),
		alreadyLinked,
		remoteShipment("se-4", "ORD-2", shipping.ShipmentStatusShipped),
	} {
		_, err := repo.Upsert(ctx, s)
		require.NoError(t, err)
	}

	orderID := uuid.New()
	linked, err := repo.LinkOrder(ctx, "ORD-1", orderID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), linked)

	shipments, err := repo.FindByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, shipments, 2)
	ids := []string{shipments[0].ShipmentID, shipments[1].ShipmentID}
	assert.ElementsMatch(t, []string{"se-1", "se-2"}, ids)

	again, err := repo.LinkOrder(ctx, "ORD-1", orderID)
	require.NoError(t, err)
	assert.Zero(t, again)

	unrelated, err := repo.FindByShipmentID(ctx, "se-4")
	require.NoError(t, err)
	assert.Nil(t, unrelated.OrderID)
}
