package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shipsync/backend/internal/infrastructure/queue"
	"github.com/shipsync/backend/internal/interfaces/http/handler"
	"github.com/shipsync/backend/internal/interfaces/http/middleware"
)

type emptyDeadLetters struct{}

func (emptyDeadLetters) Append(context.Context, *shipping.DeadLetterFailure) error { return nil }

func (emptyDeadLetters) List(context.Context, int, int) ([]shipping.DeadLetterFailure, int64, error) {
	return nil, 0, nil
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := queue.NewInMemoryQueueStore()
	return New(Config{ServiceName: "shipsync-test", MaxBodySize: 1 << 10, WebhookToken: "tok"}, zap.NewNop(), Handlers{
		Webhook: handler.NewWebhookHandler(store),
		Sync:    handler.NewSyncHandler(store, emptyDeadLetters{}, nil),
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"queue": func(context.Context) error { return nil },
		}),
	})
}

func TestNew_Routes(t *testing.T) {
	r := newTestEngine()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", "", http.StatusOK},
		{"queues", http.MethodGet, "/api/v1/sync/queues", "", "", http.StatusOK},
		{"dead letters", http.MethodGet, "/api/v1/sync/dead-letters", "", "", http.StatusOK},
		{"webhook without token", http.MethodPost, "/api/v1/webhooks/shipments", `{"orderNumber":"A","reason":"manual_resync"}`, "", http.StatusUnauthorized},
		{"webhook with token", http.MethodPost, "/api/v1/webhooks/shipments", `{"orderNumber":"A","reason":"manual_resync"}`, "tok", http.StatusAccepted},
		{"oversized body", http.MethodPost, "/api/v1/webhooks/shipments", `{"orderNumber":"` + strings.Repeat("A", 2048) + `"}`, "tok", http.StatusRequestEntityTooLarge},
		{"unknown route", http.MethodGet, "/api/v2/sync/queues", "", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.token != "" {
				req.Header.Set(middleware.WebhookTokenHeader, tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}
