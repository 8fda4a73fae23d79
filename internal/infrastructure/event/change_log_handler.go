package event

import (
	"context"

	"github.com/shipsync/backend/internal/domain/lifecycle"
	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"go.uber.org/zap"
)

// ChangeLogHandler writes every broadcast change to the log. It is the default
// subscriber when no UI transport is attached.
type ChangeLogHandler struct {
	logger *zap.Logger
}

// NewChangeLogHandler creates a change log handler
func NewChangeLogHandler(logger *zap.Logger) *ChangeLogHandler {
	return &ChangeLogHandler{logger: logger.Named("changes")}
}

// Handle implements shared.EventHandler
func (h *ChangeLogHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *shipping.ChangeEvent:
		h.logger.Debug("change broadcast",
			zap.String("event_type", e.EventType()),
			zap.Any("payload", e.Payload),
		)
	case *lifecycle.SideEffectRequestedEvent:
		h.logger.Info("side effect requested",
			zap.String("order_number", e.OrderNumber),
			zap.String("effect", string(e.Effect)),
			zap.String("stage", e.Stage),
		)
	}
	return nil
}

// EventTypes implements shared.EventHandler
func (h *ChangeLogHandler) EventTypes() []string {
	return []string{
		shipping.EventTypeOrderUpdate,
		shipping.EventTypeQueueStatus,
		lifecycle.EventTypeSideEffectRequested,
	}
}

var _ shared.EventHandler = (*ChangeLogHandler)(nil)
