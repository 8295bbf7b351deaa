package logsvc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/smarthomecloud/backend/core/user"
)

func observed(level zapcore.Level) (*RollbarLogger, *observer.ObservedLogs) {
	zc, logs := observer.New(level)
	return &RollbarLogger{zl: zap.New(zc)}, logs
}

func TestRollbarLoggerFields(t *testing.T) {
	l, logs := observed(zap.DebugLevel)
	usr := user.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}
	other := user.User{ID: "u2"}

	l.Error("request failed", errors.New("boom"), usr, other, map[string]interface{}{"path": "/v1/alerts"}, 42)

	entries := logs.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, zap.ErrorLevel, e.Level)
	assert.Equal(t, "request failed", e.Message)

	ctx := e.ContextMap()
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, "u1", ctx["user_id"])
	assert.Equal(t, "/v1/alerts", ctx["path"])
	assert.EqualValues(t, 42, ctx["arg4"])
}

func TestRollbarLoggerLevels(t *testing.T) {
	l, logs := observed(zap.InfoLevel)

	l.Debug("hidden")
	l.Info("info")
	l.Warn("warn")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Message)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestPrepareKeepsRollbarArgs(t *testing.T) {
	l, _ := observed(zap.DebugLevel)
	err := errors.New("boom")

	args, fields := l.prepare("msg", []interface{}{user.User{ID: "u1"}, err})
	assert.Equal(t, []interface{}{"msg", err}, args)
	assert.Len(t, fields, 2)
}

func TestNewZapLogger(t *testing.T) {
	zl, err := NewZapLogger("debug", "json", "api")
	require.NoError(t, err)
	assert.True(t, zl.Core().Enabled(zap.DebugLevel))

	zl, err = NewZapLogger("bogus", "console", "api")
	require.NoError(t, err)
	assert.False(t, zl.Core().Enabled(zap.DebugLevel))
	assert.True(t, zl.Core().Enabled(zap.InfoLevel))
}
