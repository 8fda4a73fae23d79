package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogger_Trace(t *testing.T) {
	sql := func() (string, int64) { return "UPDATE orders SET phase_rank = 3", 1 }

	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		elapsed time.Duration
		err     error
		wantMsg string
	}{
		{"silent drops everything", gormlogger.Silent, 0, errors.New("x"), ""},
		{"error", gormlogger.Warn, 0, errors.New("deadlock"), "SQL error"},
		{"record not found ignored", gormlogger.Warn, 0, gormlogger.ErrRecordNotFound, ""},
		{"slow", gormlogger.Warn, time.Second, nil, "slow SQL"},
		{"info logs every statement", gormlogger.Info, 0, nil, "SQL"},
		{"warn skips fast statements", gormlogger.Warn, 0, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			l := NewGormLogger(zap.New(core), tt.level, 200*time.Millisecond)
			ctx, _ := WithRunID(context.Background(), zap.NewNop(), 3)

			l.Trace(ctx, time.Now().Add(-tt.elapsed), sql, tt.err)

			if tt.wantMsg == "" {
				assert.Zero(t, logs.Len())
				return
			}
			if assert.Equal(t, 1, logs.Len()) {
				entry := logs.All()[0]
				assert.Equal(t, tt.wantMsg, entry.Message)
				assert.Equal(t, int64(3), entry.ContextMap()["run_id"])
			}
		})
	}
}

func TestGormLogger_LogMode(t *testing.T) {
	l := NewGormLogger(zap.NewNop(), gormlogger.Warn, 0)
	quiet := l.LogMode(gormlogger.Silent).(*GormLogger)
	assert.Equal(t, gormlogger.Silent, quiet.level)
	assert.Equal(t, gormlogger.Warn, l.level)
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("anything"))
}
