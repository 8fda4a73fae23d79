package shipping

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShipmentStatus(t *testing.T) {
	tests := map[string]ShipmentStatus{
		"awaiting_shipment": ShipmentStatusPending,
		"ON_HOLD":           ShipmentStatusOnHold,
		"shipped":           ShipmentStatusShipped,
		"in_transit":        ShipmentStatusInTransit,
		"delivered":         ShipmentStatusDelivered,
		"canceled":          ShipmentStatusCancelled,
		"mystery":           ShipmentStatusUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseShipmentStatus(in), in)
	}
}

func TestMergeRemote(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("new shipment records first observation", func(t *testing.T) {
		merged := MergeRemote(nil, Shipment{ShipmentID: "S1", Status: ShipmentStatusPending}, now)
		assert.Equal(t, now, merged.FirstObservedAt)
		assert.Equal(t, now, merged.CreatedAt)
		assert.Nil(t, merged.HoldObservedAt)
	})

	t.Run("new held shipment records hold observation", func(t *testing.T) {
		merged := MergeRemote(nil, Shipment{ShipmentID: "S1", Status: ShipmentStatusOnHold}, now)
		require.NotNil(t, merged.HoldObservedAt)
		assert.Equal(t, now, *merged.HoldObservedAt)
	})

	t.Run("hold release is recorded on on_hold to pending", func(t *testing.T) {
		earlier := now.Add(-3 * time.Minute)
		existing := &Shipment{ShipmentID: "S1", Status: ShipmentStatusOnHold, FirstObservedAt: earlier, HoldObservedAt: &earlier, CreatedAt: earlier}

		merged := MergeRemote(existing, Shipment{ShipmentID: "S1", Status: ShipmentStatusPending}, now)

		require.NotNil(t, merged.HoldReleasedAt)
		assert.Equal(t, now, *merged.HoldReleasedAt)
		assert.Equal(t, earlier, merged.FirstObservedAt)
		assert.Equal(t, earlier, merged.CreatedAt)
	})

	t.Run("existing link survives a resync without linkage", func(t *testing.T) {
		orderID := uuid.New()
		existing := &Shipment{ShipmentID: "S1", OrderID: &orderID, LabelURL: "https://labels/1"}

		merged := MergeRemote(existing, Shipment{ShipmentID: "S1", Status: ShipmentStatusShipped}, now)

		require.NotNil(t, merged.OrderID)
		assert.Equal(t, orderID, *merged.OrderID)
		assert.Equal(t, "https://labels/1", merged.LabelURL)
		assert.Equal(t, ShipmentStatusShipped, merged.Status)
	})

	t.Run("new link replaces missing link", func(t *testing.T) {
		orderID := uuid.New()
		merged := MergeRemote(&Shipment{ShipmentID: "S1"}, Shipment{ShipmentID: "S1", OrderID: &orderID}, now)
		assert.True(t, merged.IsLinked())
	})
}

func TestRateLimitWindow(t *testing.T) {
	assert.False(t, RateLimitWindow{}.Exhausted(), "unknown window never stops a batch")
	assert.True(t, RateLimitWindow{Known: true, Limit: 40, Remaining: 0}.Exhausted())
	assert.False(t, RateLimitWindow{Known: true, Limit: 40, Remaining: 1}.Exhausted())

	w := RateLimitWindow{Known: true, ResetSeconds: 30}
	assert.Equal(t, 35*time.Second, w.ResumeAfter(5*time.Second))
}
