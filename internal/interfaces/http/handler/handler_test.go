package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shipsync/backend/internal/infrastructure/queue"
	"github.com/shipsync/backend/internal/infrastructure/scheduler"
	"github.com/shipsync/backend/internal/interfaces/http/dto"
	"github.com/shipsync/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errRedisDown = errors.New("dial tcp: connection refused")

// brokenQueue fails every call
type brokenQueue struct {
	shipping.QueueStore
}

func (brokenQueue) Enqueue(context.Context, shipping.QueueClass, *shipping.SyncMessage) (bool, error) {
	return false, errRedisDown
}

func (brokenQueue) Length(context.Context, shipping.QueueClass) (int64, error) {
	return 0, errRedisDown
}

func (brokenQueue) RestoreInflight(context.Context, shipping.QueueClass) (int, error) {
	return 0, errRedisDown
}

type mockDeadLetters struct {
	failures []shipping.DeadLetterFailure
	err      error
	gotPage  int
	gotSize  int
}

func (m *mockDeadLetters) Append(context.Context, *shipping.DeadLetterFailure) error { return nil }

func (m *mockDeadLetters) List(_ context.Context, page, pageSize int) ([]shipping.DeadLetterFailure, int64, error) {
	m.gotPage, m.gotSize = page, pageSize
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.failures, int64(len(m.failures)) + 40, nil
}

type fixedStatus scheduler.Status

func (s fixedStatus) Status() scheduler.Status { return scheduler.Status(s) }

func newEngine(mount func(api *gin.RouterGroup)) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	mount(r.Group("/api/v1"))
	return r
}

func do(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, dto.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp dto.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestWebhookHandler_EnqueueShipment(t *testing.T) {
	store := queue.NewInMemoryQueueStore()
	h := NewWebhookHandler(store)
	r := newEngine(func(api *gin.RouterGroup) { h.RegisterRoutes(api) })

	body := `{"trackingNumber":"1Z999","reason":"tracking_update","originalPayload":{"event":"delivered"}}`

	w, resp := do(r, http.MethodPost, "/api/v1/webhooks/shipments", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["deduplicated"])
	assert.NotEmpty(t, data["message_id"])

	w, resp = do(r, http.MethodPost, "/api/v1/webhooks/shipments", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]any)["deduplicated"])

	msgs, err := store.DequeueBatch(context.Background(), shipping.QueueShipmentSync, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1Z999", msgs[0].TrackingNumber)
	assert.Equal(t, shipping.ReasonTrackingUpdate, msgs[0].Reason)
	assert.JSONEq(t, `{"event":"delivered"}`, string(msgs[0].OriginalPayload))
}

func TestWebhookHandler_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"trackingNumber":`},
		{"no identity", `{"reason":"tracking_update"}`},
		{"blank identity", `{"trackingNumber":"   ","reason":"tracking_update"}`},
		{"unknown reason", `{"orderNumber":"ORD-1","reason":"because"}`},
		{"missing reason", `{"orderNumber":"ORD-1"}`},
		{"bad label url", `{"orderNumber":"ORD-1","reason":"label_created","labelUrl":"not a url"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := queue.NewInMemoryQueueStore()
			r := newEngine(func(api *gin.RouterGroup) { NewWebhookHandler(store).RegisterRoutes(api) })

			w, resp := do(r, http.MethodPost, "/api/v1/webhooks/shipments", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)

			n, err := store.Length(context.Background(), shipping.QueueShipmentSync)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestWebhookHandler_StoreDown(t *testing.T) {
	r := newEngine(func(api *gin.RouterGroup) { NewWebhookHandler(brokenQueue{}).RegisterRoutes(api) })

	w, resp := do(r, http.MethodPost, "/api/v1/webhooks/shipments", `{"orderNumber":"ORD-1","reason":"manual_resync"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, dto.ErrCodeUnavailable, resp.Error.Code)
}

func TestSyncHandler_ListQueues(t *testing.T) {
	ctx := context.Background()
	store := queue.NewInMemoryQueueStore()
	for _, tn := range []string{"1Z1", "1Z2", "1Z3"} {
		_, err := store.Enqueue(ctx, shipping.QueueShipmentSync, shipping.NewSyncMessage(shipping.ReasonTrackingUpdate).WithTrackingNumber(tn))
		require.NoError(t, err)
	}
	_, err := store.DequeueBatch(ctx, shipping.QueueShipmentSync, 1)
	require.NoError(t, err)

	lastRun := time.Now()
	h := NewSyncHandler(store, &mockDeadLetters{}, map[shipping.QueueClass]StatusReporter{
		shipping.QueueShipmentSync: fixedStatus{Name: "shipment-sync", Running: true, LastRunID: 12, LastRunAt: &lastRun},
	})
	r := newEngine(func(api *gin.RouterGroup) { h.RegisterRoutes(api) })

	w, resp := do(r, http.MethodGet, "/api/v1/sync/queues", "")
	require.Equal(t, http.StatusOK, w.Code)
	queues := resp.Data.([]any)
	require.Len(t, queues, 2)

	shipmentSync := queues[0].(map[string]any)
	assert.Equal(t, "shipment-sync", shipmentSync["queue"])
	assert.Equal(t, float64(2), shipmentSync["length"])
	assert.Equal(t, float64(1), shipmentSync["inflight"])
	assert.NotNil(t, shipmentSync["oldest_enqueued_at"])
	coordinator := shipmentSync["coordinator"].(map[string]any)
	assert.Equal(t, float64(12), coordinator["last_run_id"])

	orderImport := queues[1].(map[string]any)
	assert.Equal(t, float64(0), orderImport["length"])
	assert.Nil(t, orderImport["coordinator"])
}

func TestSyncHandler_RestoreInflight(t *testing.T) {
	ctx := context.Background()
	store := queue.NewInMemoryQueueStore()
	_, err := store.Enqueue(ctx, shipping.QueueOrderImport, shipping.NewSyncMessage(shipping.ReasonOrderNotFound).WithOrderNumber("ORD-7"))
	require.NoError(t, err)
	_, err = store.DequeueBatch(ctx, shipping.QueueOrderImport, 5)
	require.NoError(t, err)

	r := newEngine(func(api *gin.RouterGroup) { NewSyncHandler(store, &mockDeadLetters{}, nil).RegisterRoutes(api) })

	w, resp := do(r, http.MethodPost, "/api/v1/sync/queues/order-import/restore-inflight", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp.Data.(map[string]any)["restored"])

	n, err := store.Length(ctx, shipping.QueueOrderImport)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	w, _ = do(r, http.MethodPost, "/api/v1/sync/queues/nope/restore-inflight", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	broken := newEngine(func(api *gin.RouterGroup) { NewSyncHandler(brokenQueue{}, &mockDeadLetters{}, nil).RegisterRoutes(api) })
	w, _ = do(broken, http.MethodPost, "/api/v1/sync/queues/shipment-sync/restore-inflight", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = do(broken, http.MethodGet, "/api/v1/sync/queues", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSyncHandler_ListDeadLetters(t *testing.T) {
	msg := shipping.NewSyncMessage(shipping.ReasonTrackingUpdate).WithTrackingNumber("1Z404")
	failure := shipping.NewDeadLetterFailure(shipping.QueueShipmentSync, msg, "shipment not found", json.RawMessage(`{"trackingNumber":"1Z404"}`), nil)
	repo := &mockDeadLetters{failures: []shipping.DeadLetterFailure{*failure}}
	r := newEngine(func(api *gin.RouterGroup) { NewSyncHandler(queue.NewInMemoryQueueStore(), repo, nil).RegisterRoutes(api) })

	w, resp := do(r, http.MethodGet, "/api/v1/sync/dead-letters?page=2&page_size=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, repo.gotPage)
	assert.Equal(t, 10, repo.gotSize)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(41), resp.Meta.Total)
	assert.Equal(t, 5, resp.Meta.TotalPages)
	items := resp.Data.([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "1Z404", items[0].(map[string]any)["tracking_number"])

	_, _ = do(r, http.MethodGet, "/api/v1/sync/dead-letters", "")
	assert.Equal(t, 1, repo.gotPage)
	assert.Equal(t, 20, repo.gotSize)

	w, _ = do(r, http.MethodGet, "/api/v1/sync/dead-letters?page_size=500", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	repo.err = shared.ErrUnavailable
	w, _ = do(r, http.MethodGet, "/api/v1/sync/dead-letters", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthCheck
		want   int
	}{
		{"all ok", map[string]HealthCheck{"redis": func(context.Context) error { return nil }}, http.StatusOK},
		{"one failing", map[string]HealthCheck{
			"redis":    func(context.Context) error { return nil },
			"database": func(context.Context) error { return errors.New("timeout") },
		}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", NewHealthHandler(tt.checks).Health)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrNotFound, http.StatusNotFound},
		{shared.ErrUnavailable, http.StatusServiceUnavailable},
		{shared.NewDomainError("INVALID_STATE", "nope"), http.StatusUnprocessableEntity},
		{errors.New("boom " + uuid.NewString()), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		(&BaseHandler{}).HandleError(c, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
