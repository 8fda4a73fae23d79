// Package orderimport consumes the order-import queue: it pulls orders from the
// order platform so shipments synced before their order existed can be linked.
package orderimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shipsync/backend/internal/application/shipsync"
	"github.com/shipsync/backend/internal/domain/lifecycle"
	"github.com/shipsync/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds retries of an import while the order platform is unavailable
const DefaultMaxRetries = 3

// Config holds importer tuning
type Config struct {
	MaxRetries int
}

// Importer implements shipsync.Handler for the order-import queue
type Importer struct {
	platform   shipping.OrderPlatform
	orders     lifecycle.OrderRepository
	shipments  shipping.ShipmentRepository
	queue      shipping.QueueStore
	deadLetter *shipsync.DeadLetterLogger
	config     Config
	logger     *zap.Logger
}

// NewImporter creates an order importer
func NewImporter(
	platform shipping.OrderPlatform,
	orders lifecycle.OrderRepository,
	shipments shipping.ShipmentRepository,
	queue shipping.QueueStore,
	deadLetter *shipsync.DeadLetterLogger,
	config Config,
	logger *zap.Logger,
) *Importer {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	return &Importer{
		platform:   platform,
		orders:     orders,
		shipments:  shipments,
		queue:      queue,
		deadLetter: deadLetter,
		config:     config,
		logger:     logger.Named("order_import"),
	}
}

// Handle imports the order named by msg. An existing order keeps its lifecycle stage;
// only platform fields are refreshed.
func (i *Importer) Handle(ctx context.Context, msg *shipping.SyncMessage, gate *shipsync.Gate) shipsync.Result {
	orderNumber := strings.TrimSpace(msg.OrderNumber)
	if orderNumber == "" || !msg.Reason.IsValid() {
		i.logger.Warn("invalid order import message",
			zap.String("message_id", msg.ID),
			zap.String("reason", msg.Reason.String()),
		)
		return shipsync.Result{Outcome: shipsync.OutcomeInvalid}
	}
	log := i.logger.With(zap.String("order_number", orderNumber))
	request, _ := json.Marshal(map[string]string{"orderNumber": orderNumber})

	fetch, err := i.platform.FetchOrder(ctx, orderNumber)
	var raw json.RawMessage
	if fetch != nil {
		gate.Observe(fetch.RateLimit)
		raw = fetch.Raw
	}
	switch {
	case errors.Is(err, shipping.ErrOrderPlatformRateLimited):
		gate.Stop()
		log.Info("order platform rate limit reached, deferring import")
		return shipsync.Result{Outcome: shipsync.OutcomeDeferred}
	case errors.Is(err, shipping.ErrOrderPlatformUnavailable):
		if msg.RetryCount < i.config.MaxRetries {
			log.Warn("order platform unavailable, retrying import",
				zap.Int("retry_count", msg.RetryCount+1),
				zap.Error(err),
			)
			return shipsync.Result{Outcome: shipsync.OutcomeRetried, Retry: msg.NextRetry()}
		}
		return i.fail(ctx, msg, err, request, raw)
	case err != nil:
		return i.fail(ctx, msg, err, request, raw)
	case fetch == nil || fetch.Order == nil:
		return i.fail(ctx, msg, fmt.Errorf("%w: %s", shipping.ErrRemoteOrderNotFound, orderNumber), request, raw)
	}

	order, err := lifecycle.NewImportedOrder(fetch.Order)
	if err != nil {
		return i.fail(ctx, msg, err, request, raw)
	}
	stored, created, err := i.orders.UpsertImported(ctx, order)
	if err != nil {
		return i.fail(ctx, msg, fmt.Errorf("failed to store order %s: %w", orderNumber, err), request, raw)
	}

	linked, err := i.shipments.LinkOrder(ctx, stored.OrderNumber, stored.ID)
	if err != nil {
		log.Error("failed to link shipments to imported order", zap.Error(err))
	}

	// a by-order sync re-reads shipments and re-evaluates the lifecycle of the new order
	followUp := shipping.NewSyncMessage(shipping.ReasonOrderImported).WithOrderNumber(stored.OrderNumber)
	if _, err := i.queue.Enqueue(ctx, shipping.QueueShipmentSync, followUp); err != nil {
		log.Error("failed to enqueue shipment sync for imported order", zap.Error(err))
	}

	log.Info("order imported",
		zap.String("order_id", stored.ID.String()),
		zap.Bool("created", created),
		zap.Int64("shipments_linked", linked),
	)
	return shipsync.Result{Outcome: shipsync.OutcomeCompleted}
}

func (i *Importer) fail(ctx context.Context, msg *shipping.SyncMessage, cause error, request, response json.RawMessage) shipsync.Result {
	return i.deadLetter.Finish(ctx, shipping.QueueOrderImport, msg, cause, request, response)
}

var _ shipsync.Handler = (*Importer)(nil)
