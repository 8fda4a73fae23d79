// Package lifecycle re-evaluates order lifecycle stages after shipment changes.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shipsync/backend/internal/domain/lifecycle"
	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// Hook runs automation unlocked by an applied transition
type Hook interface {
	Run(ctx context.Context, order *lifecycle.Order, stage lifecycle.Stage) error
}

// HookFunc adapts a function to Hook
type HookFunc func(ctx context.Context, order *lifecycle.Order, stage lifecycle.Stage) error

// Run calls f
func (f HookFunc) Run(ctx context.Context, order *lifecycle.Order, stage lifecycle.Stage) error {
	return f(ctx, order, stage)
}

// Result describes one re-evaluation
type Result struct {
	Previous lifecycle.Stage
	Current  lifecycle.Stage
	// Applied is true when a forward transition was written
	Applied bool
	// Held is true when every live shipment is still gated by a hold
	Held bool
}

// Service evaluates an order against its shipments and advances its stage forward-only
type Service struct {
	orders    lifecycle.OrderRepository
	shipments shipping.ShipmentRepository
	evaluator *lifecycle.Evaluator
	publisher shared.EventPublisher
	hooks     map[lifecycle.SideEffect][]Hook
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a lifecycle service
func NewService(
	orders lifecycle.OrderRepository,
	shipments shipping.ShipmentRepository,
	evaluator *lifecycle.Evaluator,
	publisher shared.EventPublisher,
	logger *zap.Logger,
) *Service {
	if evaluator == nil {
		evaluator = lifecycle.NewEvaluator(0)
	}
	return &Service{
		orders:    orders,
		shipments: shipments,
		evaluator: evaluator,
		publisher: publisher,
		hooks:     make(map[lifecycle.SideEffect][]Hook),
		logger:    logger.Named("lifecycle"),
		now:       time.Now,
	}
}

// RegisterHook adds a hook fired when an order enters a stage unlocking effect.
// Registration is not safe once Reevaluate is in use.
func (s *Service) RegisterHook(effect lifecycle.SideEffect, hook Hook) {
	if effect == lifecycle.SideEffectNone || hook == nil {
		return
	}
	s.hooks[effect] = append(s.hooks[effect], hook)
}

// Reevaluate implements shipsync.LifecycleReevaluator
func (s *Service) Reevaluate(ctx context.Context, orderID uuid.UUID, shipmentIDs []string) error {
	_, err := s.Evaluate(ctx, orderID, shipmentIDs)
	return err
}

// Evaluate loads the order and its shipments, computes the supported stage and
// writes it only when it moves the order forward. An order_update event is
// broadcast whenever the order was loaded, even if the stage did not change,
// since the shipments themselves did.
func (s *Service) Evaluate(ctx context.Context, orderID uuid.UUID, shipmentIDs []string) (*Result, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	shipments, err := s.shipments.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shipments of order %s: %w", order.OrderNumber, err)
	}

	log := s.logger.With(
		zap.String("order_id", orderID.String()),
		zap.String("order_number", order.OrderNumber),
	)
	result := &Result{Previous: order.Stage, Current: order.Stage}

	proposed, ok := s.evaluator.Evaluate(order.Facts(shipments), s.now())
	switch {
	case !ok:
		result.Held = true
		log.Debug("lifecycle evaluation deferred, shipments on hold",
			zap.Int("shipments", len(shipments)),
		)
	case lifecycle.IsRegression(order.Stage, proposed):
		log.Info("lifecycle regression ignored",
			zap.String("current", order.Stage.String()),
			zap.String("proposed", proposed.String()),
		)
	case proposed == order.Stage:
	default:
		applied, err := s.orders.SaveStage(ctx, orderID, proposed)
		if err != nil {
			return nil, fmt.Errorf("failed to save stage of order %s: %w", order.OrderNumber, err)
		}
		if applied {
			result.Applied = true
			result.Current = proposed
			log.Info("lifecycle advanced",
				zap.String("from", order.Stage.String()),
				zap.String("to", proposed.String()),
			)
			s.fireHooks(ctx, log, order, proposed)
		} else {
			log.Debug("lifecycle write skipped, stored stage is ahead",
				zap.String("proposed", proposed.String()),
			)
		}
	}

	s.broadcast(ctx, log, order, result.Current, shipmentIDs)
	return result, nil
}

// fireHooks runs the hooks of the entered stage; failures are logged and never
// undo the transition
func (s *Service) fireHooks(ctx context.Context, log *zap.Logger, order *lifecycle.Order, stage lifecycle.Stage) {
	effect := stage.SideEffect()
	for _, hook := range s.hooks[effect] {
		if err := hook.Run(ctx, order, stage); err != nil {
			log.Warn("lifecycle side effect failed",
				zap.String("effect", string(effect)),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) broadcast(ctx context.Context, log *zap.Logger, order *lifecycle.Order, stage lifecycle.Stage, shipmentIDs []string) {
	if s.publisher == nil {
		return
	}
	event := shipping.NewOrderUpdateEvent(shipping.OrderUpdatePayload{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Phase:       stage.Phase.String(),
		Subphase:    stage.Subphase.String(),
		ShipmentIDs: shipmentIDs,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn("failed to broadcast order update", zap.Error(err))
	}
}

// PublishingHook returns a hook that requests the side effect by publishing a
// SideEffectRequestedEvent for downstream automation
func PublishingHook(publisher shared.EventPublisher) Hook {
	return HookFunc(func(ctx context.Context, order *lifecycle.Order, stage lifecycle.Stage) error {
		return publisher.Publish(ctx, lifecycle.NewSideEffectRequestedEvent(order, stage))
	})
}
