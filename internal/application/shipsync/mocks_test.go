package shipsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
)

// mockCarrier is a function-field carrier platform
type mockCarrier struct {
	byTracking func(ctx context.Context, trackingNumber string) (*shipping.ShipmentLookup, error)
	byOrder    func(ctx context.Context, orderNumber string) (*shipping.ShipmentLookup, error)
	calls      []string
}

func (m *mockCarrier) ShipmentsByTracking(ctx context.Context, trackingNumber string) (*shipping.ShipmentLookup, error) {
	m.calls = append(m.calls, "tracking:"+trackingNumber)
	if m.byTracking == nil {
		return &shipping.ShipmentLookup{}, nil
	}
	return m.byTracking(ctx, trackingNumber)
}

func (m *mockCarrier) ShipmentsByOrder(ctx context.Context, orderNumber string) (*shipping.ShipmentLookup, error) {
	m.calls = append(m.calls, "order:"+orderNumber)
	if m.byOrder == nil {
		return &shipping.ShipmentLookup{}, nil
	}
	return m.byOrder(ctx, orderNumber)
}

// mockShipmentRepo keeps shipments in a map keyed by shipment id
type mockShipmentRepo struct {
	mu        sync.Mutex
	shipments map[string]shipping.Shipment
	upsertErr error
	// failFor fails the upsert of selected shipment ids
	failFor map[string]error
}

func newMockShipmentRepo() *mockShipmentRepo {
	return &mockShipmentRepo{shipments: make(map[string]shipping.Shipment)}
}

func (r *mockShipmentRepo) Upsert(ctx context.Context, s *shipping.Shipment) (*shipping.Shipment, error) {
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	if err, ok := r.failFor[s.ShipmentID]; ok {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing *shipping.Shipment
	if stored, ok := r.shipments[s.ShipmentID]; ok {
		existing = &stored
	}
	merged := shipping.MergeRemote(existing, *s, time.Now())
	r.shipments[s.ShipmentID] = merged
	return &merged, nil
}

func (r *mockShipmentRepo) FindByShipmentID(ctx context.Context, shipmentID string) (*shipping.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shipments[shipmentID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &s, nil
}

func (r *mockShipmentRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]shipping.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []shipping.Shipment
	for _, s := range r.shipments {
		if s.IsLinked() && *s.OrderID == orderID {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *mockShipmentRepo) LinkOrder(ctx context.Context, orderNumber string, orderID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.shipments {
		if s.OrderNumber == orderNumber && !s.IsLinked() {
			linked := orderID
			s.OrderID = &linked
			r.shipments[id] = s
			n++
		}
	}
	return n, nil
}

// mockOrderLookup resolves order numbers from a map
type mockOrderLookup struct {
	orders map[string]uuid.UUID
	err    error
}

func (m *mockOrderLookup) FindByOrderNumber(ctx context.Context, orderNumber string) (*shipping.OrderRef, error) {
	if m.err != nil {
		return nil, m.err
	}
	id, ok := m.orders[orderNumber]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &shipping.OrderRef{ID: id, OrderNumber: orderNumber}, nil
}

// mockDeadLetterRepo collects appended failures
type mockDeadLetterRepo struct {
	mu        sync.Mutex
	failures  []*shipping.DeadLetterFailure
	appendErr error
}

func (r *mockDeadLetterRepo) Append(ctx context.Context, failure *shipping.DeadLetterFailure) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure)
	return nil
}

func (r *mockDeadLetterRepo) List(ctx context.Context, page, pageSize int) ([]shipping.DeadLetterFailure, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]shipping.DeadLetterFailure, 0, len(r.failures))
	for _, f := range r.failures {
		result = append(result, *f)
	}
	return result, int64(len(result)), nil
}

func (r *mockDeadLetterRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

// mockLifecycle records re-evaluation requests
type mockLifecycle struct {
	calls map[uuid.UUID][]string
	err   error
}

func newMockLifecycle() *mockLifecycle {
	return &mockLifecycle{calls: make(map[uuid.UUID][]string)}
}

func (m *mockLifecycle) Reevaluate(ctx context.Context, orderID uuid.UUID, shipmentIDs []string) error {
	m.calls[orderID] = append(m.calls[orderID], shipmentIDs...)
	return m.err
}

// mockPublisher records published events
type mockPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *mockPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *mockPublisher) queueStatuses() []shipping.QueueStatusPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []shipping.QueueStatusPayload
	for _, e := range p.events {
		if ce, ok := e.(*shipping.ChangeEvent); ok && ce.EventType() == shipping.EventTypeQueueStatus {
			result = append(result, ce.Payload.(shipping.QueueStatusPayload))
		}
	}
	return result
}

// recordingMetrics counts metric calls
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	stops    int
	depth    map[string]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[string]int), depth: make(map[string]int64)}
}

func (m *recordingMetrics) RecordOutcome(ctx context.Context, queue, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *recordingMetrics) RecordRateLimitStop(ctx context.Context, queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *recordingMetrics) RecordQueueDepth(ctx context.Context, queue string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth[queue] = depth
}

// flakyQueue wraps a queue store and fails selected operations
type flakyQueue struct {
	shipping.QueueStore
	dequeueErr error
	requeueErr error
}

func (q *flakyQueue) DequeueBatch(ctx context.Context, class shipping.QueueClass, n int) ([]*shipping.SyncMessage, error) {
	if q.dequeueErr != nil {
		return nil, q.dequeueErr
	}
	return q.QueueStore.DequeueBatch(ctx, class, n)
}

func (q *flakyQueue) Requeue(ctx context.Context, class shipping.QueueClass, msgs []*shipping.SyncMessage) error {
	if q.requeueErr != nil {
		return q.requeueErr
	}
	return q.QueueStore.Requeue(ctx, class, msgs)
}

var errStoreDown = errors.New("store down")

func window(remaining, reset int) shipping.RateLimitWindow {
	return shipping.RateLimitWindow{Limit: 40, Remaining: remaining, ResetSeconds: reset, Known: true}
}
