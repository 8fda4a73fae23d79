package shipsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

const (
	// DefaultMaxOrderRetries bounds how often an order-number message waits for its order import
	DefaultMaxOrderRetries = 3
	// DefaultMaxRemoteRetries bounds retries while the carrier platform is unavailable
	DefaultMaxRemoteRetries = 3
)

// LifecycleReevaluator re-runs lifecycle evaluation after an order's shipments changed
// and broadcasts the result
type LifecycleReevaluator interface {
	Reevaluate(ctx context.Context, orderID uuid.UUID, shipmentIDs []string) error
}

// ResolverConfig holds resolver tuning
type ResolverConfig struct {
	MaxOrderRetries int
	// MaxRemoteRetries applies to 5xx and network failures. The retry count is shared
	// with order waits, so a message never exceeds the larger bound in total.
	MaxRemoteRetries int
}

// Resolver resolves shipment-sync messages by tracking number or by order number
type Resolver struct {
	carrier    shipping.CarrierPlatform
	shipments  shipping.ShipmentRepository
	orders     shipping.OrderLookup
	queue      shipping.QueueStore
	lifecycle  LifecycleReevaluator
	deadLetter *DeadLetterLogger
	config     ResolverConfig
	logger     *zap.Logger
}

// NewResolver creates a resolver for the shipment-sync queue
func NewResolver(
	carrier shipping.CarrierPlatform,
	shipments shipping.ShipmentRepository,
	orders shipping.OrderLookup,
	queue shipping.QueueStore,
	lifecycle LifecycleReevaluator,
	deadLetter *DeadLetterLogger,
	config ResolverConfig,
	logger *zap.Logger,
) *Resolver {
	if config.MaxOrderRetries <= 0 {
		config.MaxOrderRetries = DefaultMaxOrderRetries
	}
	if config.MaxRemoteRetries <= 0 {
		config.MaxRemoteRetries = DefaultMaxRemoteRetries
	}
	return &Resolver{
		carrier:    carrier,
		shipments:  shipments,
		orders:     orders,
		queue:      queue,
		lifecycle:  lifecycle,
		deadLetter: deadLetter,
		config:     config,
		logger:     logger.Named("resolver"),
	}
}

// Handle implements Handler
func (r *Resolver) Handle(ctx context.Context, msg *shipping.SyncMessage, gate *Gate) Result {
	if !msg.Reason.IsValid() {
		r.logInvalid(msg, shipping.ErrUnknownSyncReason)
		return Result{Outcome: OutcomeInvalid}
	}
	target, err := msg.Target()
	if err != nil {
		r.logInvalid(msg, err)
		return Result{Outcome: OutcomeInvalid}
	}

	switch t := target.(type) {
	case shipping.ByTracking:
		return r.resolveByTracking(ctx, msg, t, gate)
	case shipping.ByOrder:
		return r.resolveByOrder(ctx, msg, t, gate)
	default:
		r.logInvalid(msg, fmt.Errorf("unsupported target %T", target))
		return Result{Outcome: OutcomeInvalid}
	}
}

func (r *Resolver) logInvalid(msg *shipping.SyncMessage, err error) {
	r.logger.Warn("invalid sync message",
		zap.String("message_id", msg.ID),
		zap.String("reason", msg.Reason.String()),
		zap.String("order_number", msg.OrderNumber),
		zap.String("tracking_number", msg.TrackingNumber),
		zap.Error(err),
	)
}

// resolveByTracking fetches the shipment by tracking number and links it to a local
// order when the response names one that has been imported. Fetched data is kept
// even when linkage fails.
func (r *Resolver) resolveByTracking(ctx context.Context, msg *shipping.SyncMessage, t shipping.ByTracking, gate *Gate) Result {
	request := snapshot(map[string]string{"trackingNumber": t.TrackingNumber})

	lookup, err := r.carrier.ShipmentsByTracking(ctx, t.TrackingNumber)
	if res, done := r.afterRemoteCall(ctx, msg, lookup, err, gate, request); done {
		return res
	}

	valid := r.withIdentity(msg, lookup.Shipments)
	if len(valid) == 0 {
		return r.fail(ctx, msg, fmt.Errorf("%w: tracking number %s", shipping.ErrShipmentNotFound, t.TrackingNumber), request, lookup.Raw)
	}

	touched := make(map[uuid.UUID][]string)
	// shipments stored before a failure still changed their orders
	failAfterWrites := func(cause error) Result {
		r.reevaluate(ctx, touched)
		return r.fail(ctx, msg, cause, request, lookup.Raw)
	}
	for i := range valid {
		s := valid[i]
		if s.OrderNumber == "" {
			s.OrderNumber = msg.OrderNumber
		}
		if s.LabelURL == "" {
			s.LabelURL = msg.LabelURL
		}

		ref, err := r.findOrder(ctx, s.OrderNumber)
		if err != nil {
			return failAfterWrites(err)
		}
		if ref != nil {
			id := ref.ID
			s.OrderID = &id
		}

		stored, err := r.shipments.Upsert(ctx, &s)
		if err != nil {
			return failAfterWrites(fmt.Errorf("failed to persist shipment %s: %w", s.ShipmentID, err))
		}

		if stored.IsLinked() {
			touched[*stored.OrderID] = append(touched[*stored.OrderID], stored.ShipmentID)
			continue
		}
		r.logger.Info("shipment persisted without local order",
			zap.String("shipment_id", stored.ShipmentID),
			zap.String("tracking_number", t.TrackingNumber),
			zap.String("order_number", s.OrderNumber),
		)
		if s.OrderNumber != "" {
			r.requestImport(ctx, s.OrderNumber, shipping.ReasonUnlinkedShipment)
		}
	}

	r.reevaluate(ctx, touched)
	return Result{Outcome: OutcomeCompleted}
}

// resolveByOrder lists the order's shipments and upserts each one. When the order is
// not imported yet the message waits for the import with a bounded retry count.
func (r *Resolver) resolveByOrder(ctx context.Context, msg *shipping.SyncMessage, t shipping.ByOrder, gate *Gate) Result {
	request := snapshot(map[string]string{"orderNumber": t.OrderNumber})

	lookup, err := r.carrier.ShipmentsByOrder(ctx, t.OrderNumber)
	if res, done := r.afterRemoteCall(ctx, msg, lookup, err, gate, request); done {
		return res
	}

	ref, err := r.findOrder(ctx, t.OrderNumber)
	if err != nil {
		return r.fail(ctx, msg, err, request, lookup.Raw)
	}
	var orderID *uuid.UUID
	if ref != nil {
		id := ref.ID
		orderID = &id
	}

	var shipmentIDs []string
	for _, s := range r.withIdentity(msg, lookup.Shipments) {
		if s.OrderNumber == "" {
			s.OrderNumber = t.OrderNumber
		}
		s.OrderID = orderID
		stored, err := r.shipments.Upsert(ctx, &s)
		if err != nil {
			return r.fail(ctx, msg, fmt.Errorf("failed to persist shipment %s: %w", s.ShipmentID, err), request, lookup.Raw)
		}
		shipmentIDs = append(shipmentIDs, stored.ShipmentID)
	}

	if ref != nil {
		r.reevaluate(ctx, map[uuid.UUID][]string{ref.ID: shipmentIDs})
		return Result{Outcome: OutcomeCompleted}
	}

	if msg.RetryCount >= r.config.MaxOrderRetries {
		cause := fmt.Errorf("%w: order %s not imported after %d retries", shared.ErrNotFound, t.OrderNumber, msg.RetryCount)
		return r.fail(ctx, msg, cause, request, lookup.Raw)
	}

	r.requestImport(ctx, t.OrderNumber, shipping.ReasonOrderNotFound)
	r.logger.Info("order not imported yet, retrying later",
		zap.String("order_number", t.OrderNumber),
		zap.Int("retry_count", msg.RetryCount+1),
		zap.Int("shipments_persisted", len(shipmentIDs)),
	)
	return Result{Outcome: OutcomeRetried, Retry: msg.NextRetry()}
}

// afterRemoteCall feeds the gate and handles a failed remote call. done is true
// when the message is finished or deferred.
func (r *Resolver) afterRemoteCall(
	ctx context.Context,
	msg *shipping.SyncMessage,
	lookup *shipping.ShipmentLookup,
	err error,
	gate *Gate,
	request json.RawMessage,
) (Result, bool) {
	var raw json.RawMessage
	if lookup != nil {
		gate.Observe(lookup.RateLimit)
		raw = lookup.Raw
	}
	if err == nil && lookup != nil {
		return Result{}, false
	}
	if errors.Is(err, shipping.ErrCarrierRateLimited) {
		gate.Stop()
		r.logger.Info("carrier rate limit reached, deferring message",
			zap.String("message_id", msg.ID),
			zap.Duration("resume_after", gate.ResumeAfter()),
		)
		return Result{Outcome: OutcomeDeferred}, true
	}
	if errors.Is(err, shipping.ErrCarrierUnavailable) && msg.RetryCount < r.config.MaxRemoteRetries {
		r.logger.Warn("carrier unavailable, retrying later",
			zap.String("message_id", msg.ID),
			zap.Int("retry_count", msg.RetryCount+1),
			zap.Error(err),
		)
		return Result{Outcome: OutcomeRetried, Retry: msg.NextRetry()}, true
	}
	if err == nil {
		err = shipping.ErrCarrierInvalidResponse
	}
	return r.fail(ctx, msg, err, request, raw), true
}

// withIdentity drops and logs remote entries without a shipment id
func (r *Resolver) withIdentity(msg *shipping.SyncMessage, shipments []shipping.Shipment) []shipping.Shipment {
	valid := make([]shipping.Shipment, 0, len(shipments))
	for _, s := range shipments {
		if !s.HasIdentity() {
			r.logger.Warn("skipping remote shipment without shipment id",
				zap.String("message_id", msg.ID),
				zap.String("order_number", s.OrderNumber),
				zap.String("tracking_number", s.TrackingNumber),
			)
			continue
		}
		valid = append(valid, s)
	}
	return valid
}

// findOrder returns nil without error when the order is not imported
func (r *Resolver) findOrder(ctx context.Context, orderNumber string) (*shipping.OrderRef, error) {
	if orderNumber == "" {
		return nil, nil
	}
	ref, err := r.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up order %s: %w", orderNumber, err)
	}
	return ref, nil
}

// requestImport enqueues an order import without waiting on or failing with it
func (r *Resolver) requestImport(ctx context.Context, orderNumber string, reason shipping.SyncReason) {
	msg := shipping.NewSyncMessage(reason).WithOrderNumber(orderNumber)
	added, err := r.queue.Enqueue(ctx, shipping.QueueOrderImport, msg)
	if err != nil {
		r.logger.Error("failed to request order import",
			zap.String("order_number", orderNumber),
			zap.String("reason", reason.String()),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("order import requested",
		zap.String("order_number", orderNumber),
		zap.String("reason", reason.String()),
		zap.Bool("deduplicated", !added),
	)
}

// reevaluate runs the lifecycle for every touched order. Shipments are already
// stored, so a failure here is logged and does not fail the message.
func (r *Resolver) reevaluate(ctx context.Context, touched map[uuid.UUID][]string) {
	if r.lifecycle == nil {
		return
	}
	for orderID, shipmentIDs := range touched {
		if err := r.lifecycle.Reevaluate(ctx, orderID, shipmentIDs); err != nil {
			r.logger.Error("lifecycle re-evaluation failed",
				zap.String("order_id", orderID.String()),
				zap.Strings("shipment_ids", shipmentIDs),
				zap.Error(err),
			)
		}
	}
}

func (r *Resolver) fail(ctx context.Context, msg *shipping.SyncMessage, cause error, request, response json.RawMessage) Result {
	return r.deadLetter.Finish(ctx, shipping.QueueShipmentSync, msg, cause, request, response)
}

func snapshot(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

var _ Handler = (*Resolver)(nil)
