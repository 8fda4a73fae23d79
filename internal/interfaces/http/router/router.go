// Package router assembles the gin engine of the sync engine.
package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shipsync/backend/internal/infrastructure/logger"
	"github.com/shipsync/backend/internal/interfaces/http/handler"
	"github.com/shipsync/backend/internal/interfaces/http/middleware"
)

// Config holds router settings
type Config struct {
	ServiceName    string
	MaxBodySize    int64
	WebhookToken   string
	TracingEnabled bool
	APIVersion     string
}

// Handlers are the route owners mounted by New
type Handlers struct {
	Webhook *handler.WebhookHandler
	Sync    *handler.SyncHandler
	Health  *handler.HealthHandler
}

// New builds the engine: request id, tracing, access log, recovery and body limit
// on every route, /health at the root, everything else under /api/<version>
func New(cfg Config, log *zap.Logger, h Handlers) *gin.Engine {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v1"
	}
	engine := gin.New()
	engine.Use(middleware.RequestID())
	if cfg.TracingEnabled {
		engine.Use(middleware.Tracing(cfg.ServiceName))
	}
	engine.Use(logger.GinMiddleware(log), logger.Recovery(log))
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	if h.Health != nil {
		engine.GET("/health", h.Health.Health)
	}

	api := engine.Group("/api/" + cfg.APIVersion)
	if h.Webhook != nil {
		h.Webhook.RegisterRoutes(api, middleware.WebhookToken(cfg.WebhookToken))
	}
	if h.Sync != nil {
		h.Sync.RegisterRoutes(api)
	}
	return engine
}
