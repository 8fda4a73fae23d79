package shipping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMessage_Target(t *testing.T) {
	tests := []struct {
		name    string
		msg     *SyncMessage
		want    SyncTarget
		wantErr error
	}{
		{
			name: "tracking number selects tracking path",
			msg:  NewSyncMessage(ReasonShipmentWebhook).WithTrackingNumber("1Z999"),
			want: ByTracking{TrackingNumber: "1Z999"},
		},
		{
			name: "order number selects order path",
			msg:  NewSyncMessage(ReasonShipmentWebhook).WithOrderNumber("A-100"),
			want: ByOrder{OrderNumber: "A-100"},
		},
		{
			name: "tracking number wins when both are present",
			msg:  NewSyncMessage(ReasonShipmentWebhook).WithOrderNumber("A-100").WithTrackingNumber("1Z999"),
			want: ByTracking{TrackingNumber: "1Z999"},
		},
		{
			name:    "neither present is invalid",
			msg:     NewSyncMessage(ReasonShipmentWebhook),
			wantErr: ErrInvalidSyncMessage,
		},
		{
			name:    "whitespace only is invalid",
			msg:     &SyncMessage{OrderNumber: "  ", TrackingNumber: "\t"},
			wantErr: ErrInvalidSyncMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.msg.Target()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSyncMessage_DedupKey(t *testing.T) {
	t.Run("same shipment and reason share a key", func(t *testing.T) {
		a := NewSyncMessage(ReasonShipmentWebhook).WithShipmentID("S1").WithTrackingNumber("T1")
		b := NewSyncMessage(ReasonShipmentWebhook).WithShipmentID("S1").WithTrackingNumber("T2")
		assert.Equal(t, a.DedupKey(), b.DedupKey())
	})

	t.Run("same shipment different reason do not collide", func(t *testing.T) {
		a := NewSyncMessage(ReasonShipmentWebhook).WithShipmentID("S1")
		b := NewSyncMessage(ReasonTrackingUpdate).WithShipmentID("S1")
		assert.NotEqual(t, a.DedupKey(), b.DedupKey())
	})

	t.Run("falls back to tracking then order number", func(t *testing.T) {
		byTracking := NewSyncMessage(ReasonBackfillJob).WithTrackingNumber("T1").WithOrderNumber("O1")
		byOrder := NewSyncMessage(ReasonBackfillJob).WithOrderNumber("O1")
		assert.Equal(t, "tracking:T1|backfill_job", byTracking.DedupKey())
		assert.Equal(t, "order:O1|backfill_job", byOrder.DedupKey())
	})

	t.Run("messages without identity never merge", func(t *testing.T) {
		a := NewSyncMessage(ReasonBackfillJob)
		b := NewSyncMessage(ReasonBackfillJob)
		assert.NotEqual(t, a.DedupKey(), b.DedupKey())
	})
}

func TestSyncMessage_NextRetry(t *testing.T) {
	msg := NewSyncMessage(ReasonShipmentWebhook).WithOrderNumber("A-1")
	next := msg.NextRetry()

	assert.Equal(t, 0, msg.RetryCount)
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, msg.ID, next.ID)
	assert.Equal(t, msg.DedupKey(), next.DedupKey())
}

func TestSyncMessage_WireFormat(t *testing.T) {
	raw := `{"id":"m1","orderNumber":"A-1","reason":"shipment_webhook","retryCount":2,"enqueuedAt":"2026-01-02T03:04:05Z","originalPayload":{"resource_url":"x"}}`

	var msg SyncMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, "A-1", msg.OrderNumber)
	assert.Equal(t, ReasonShipmentWebhook, msg.Reason)
	assert.Equal(t, 2, msg.RetryCount)
	assert.JSONEq(t, `{"resource_url":"x"}`, string(msg.OriginalPayload))
}

func TestParseSyncReason(t *testing.T) {
	r, err := ParseSyncReason(" Shipment_Webhook ")
	require.NoError(t, err)
	assert.Equal(t, ReasonShipmentWebhook, r)

	_, err = ParseSyncReason("whatever")
	assert.ErrorIs(t, err, ErrUnknownSyncReason)
}

func TestParseQueueClass(t *testing.T) {
	c, err := ParseQueueClass("order-import")
	require.NoError(t, err)
	assert.Equal(t, QueueOrderImport, c)

	_, err = ParseQueueClass("other")
	assert.ErrorIs(t, err, ErrUnknownQueueClass)
}
