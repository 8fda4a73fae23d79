package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shipsync/backend/internal/infrastructure/logger"
	"github.com/shipsync/backend/internal/infrastructure/scheduler"
	"github.com/shipsync/backend/internal/interfaces/http/dto"
)

// StatusReporter exposes a coordinator snapshot
type StatusReporter interface {
	Status() scheduler.Status
}

// SyncHandler serves the operator endpoints: queue status, in-flight recovery and
// dead-letter triage
type SyncHandler struct {
	BaseHandler
	queue        shipping.QueueStore
	deadLetters  shipping.DeadLetterRepository
	coordinators map[shipping.QueueClass]StatusReporter
}

// NewSyncHandler creates the operator handler. coordinators may omit a class whose
// worker is disabled.
func NewSyncHandler(queue shipping.QueueStore, deadLetters shipping.DeadLetterRepository, coordinators map[shipping.QueueClass]StatusReporter) *SyncHandler {
	if coordinators == nil {
		coordinators = make(map[shipping.QueueClass]StatusReporter)
	}
	return &SyncHandler{queue: queue, deadLetters: deadLetters, coordinators: coordinators}
}

// ListQueues handles GET /sync/queues
func (h *SyncHandler) ListQueues(c *gin.Context) {
	ctx := c.Request.Context()
	classes := shipping.AllQueueClasses()
	out := make([]dto.QueueStatusResponse, 0, len(classes))
	for _, class := range classes {
		status := dto.QueueStatusResponse{Queue: class.String()}
		var err error
		if status.Length, err = h.queue.Length(ctx, class); err != nil {
			h.unavailable(c, err)
			return
		}
		if status.Inflight, err = h.queue.InflightCount(ctx, class); err != nil {
			h.unavailable(c, err)
			return
		}
		if status.OldestAt, err = h.queue.OldestEnqueuedAt(ctx, class); err != nil {
			h.unavailable(c, err)
			return
		}
		if reporter, ok := h.coordinators[class]; ok {
			s := reporter.Status()
			status.Coordinator = &dto.CoordinatorStatus{
				Running:   s.Running,
				LastRunID: s.LastRunID,
				LastRunAt: s.LastRunAt,
				LastError: s.LastError,
				Skipped:   s.Skipped,
			}
		}
		out = append(out, status)
	}
	h.Success(c, out)
}

// RestoreInflight handles POST /sync/queues/:class/restore-inflight. It returns messages stranded in-flight by a crashed worker to the front of the queue.
// Run it only while the class's worker is stopped or idle.
func (h *SyncHandler) RestoreInflight(c *gin.Context) {
	class, err := shipping.ParseQueueClass(c.Param("class"))
	if err != nil {
		h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, err.Error())
		return
	}
	restored, err := h.queue.RestoreInflight(c.Request.Context(), class)
	if err != nil {
		h.unavailable(c, err)
		return
	}
	logger.GetGinLogger(c).Info("in-flight messages restored",
		zap.String("queue", class.String()),
		zap.Int("restored", restored),
	)
	h.Success(c, dto.RestoreInflightResponse{Queue: class.String(), Restored: restored})
}

// ListDeadLetters handles GET /sync/dead-letters, newest first
func (h *SyncHandler) ListDeadLetters(c *gin.Context) {
	var page dto.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	}
	page.Normalize()

	failures, total, err := h.deadLetters.List(c.Request.Context(), page.Page, page.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.DeadLetterResponse, len(failures))
	for i := range failures {
		out[i] = dto.NewDeadLetterResponse(&failures[i])
	}
	h.SuccessWithMeta(c, out, total, page.Page, page.PageSize)
}

func (h *SyncHandler) unavailable(c *gin.Context, err error) {
	logger.GetGinLogger(c).Error("queue store call failed", zap.Error(err))
	h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "queue store unavailable")
}

// RegisterRoutes mounts the operator routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/sync")
	g.GET("/queues", h.ListQueues)
	g.POST("/queues/:class/restore-inflight", h.RestoreInflight)
	g.GET("/dead-letters", h.ListDeadLetters)
}
