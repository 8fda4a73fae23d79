package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shipsync/backend/internal/infrastructure/logger"
	"github.com/shipsync/backend/internal/interfaces/http/dto"
)

// WebhookHandler is the producer endpoint feeding the shipment-sync queue
type WebhookHandler struct {
	BaseHandler
	queue shipping.QueueStore
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(queue shipping.QueueStore) *WebhookHandler {
	return &WebhookHandler{queue: queue}
}

// EnqueueShipment handles POST /webhooks/shipments.
// 202 when queued, 200 with deduplicated=true when an equivalent message is already
// waiting, 503 when the queue store is unreachable so the producer retries.
func (h *WebhookHandler) EnqueueShipment(c *gin.Context) {
	var req dto.ShipmentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	}
	msg, err := req.ToMessage()
	if err != nil {
		switch {
		case errors.Is(err, shipping.ErrUnknownSyncReason), errors.Is(err, shipping.ErrInvalidSyncMessage):
			h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		default:
			h.HandleError(c, err)
		}
		return
	}

	log := logger.GetGinLogger(c).With(
		zap.String("message_id", msg.ID),
		zap.String("reason", msg.Reason.String()),
		zap.String("tracking_number", msg.TrackingNumber),
		zap.String("order_number", msg.OrderNumber),
	)
	added, err := h.queue.Enqueue(c.Request.Context(), shipping.QueueShipmentSync, msg)
	if err != nil {
		log.Error("failed to enqueue shipment sync", zap.Error(err))
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "queue store unavailable")
		return
	}

	resp := dto.EnqueueResponse{Queue: shipping.QueueShipmentSync.String(), Deduplicated: !added}
	if !added {
		log.Debug("shipment sync deduplicated")
		h.Success(c, resp)
		return
	}
	resp.MessageID = msg.ID
	log.Info("shipment sync queued")
	h.Accepted(c, resp)
}

// RegisterRoutes mounts the webhook routes
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	g := rg.Group("/webhooks", mw...)
	g.POST("/shipments", h.EnqueueShipment)
}
