// File: internal/observability/logger_test.go
package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/selectsweep/internal/config"
)

// memSink is a minimal WriteSyncer capturing console output.
type memSink struct {
	strings.Builder
}

func (s *memSink) Sync() error { return nil }

func TestInitializeSetsGlobalLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memSink{}
	Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "sweeptest"}, sink)

	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Info("hello from the harness")

	out := sink.String()
	assert.Contains(t, out, "sweeptest.")
	assert.Contains(t, out, "hello from the harness")
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &memSink{}
	second := &memSink{}
	Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "first"}, first)
	Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "second"}, second)

	GetLogger().Info("routed once")
	assert.Contains(t, first.String(), "routed once")
	assert.Empty(t, second.String())
}

func TestInitializeBadLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memSink{}
	Initialize(config.LoggerConfig{Level: "chatty", Format: "console", ServiceName: "sweep"}, sink)

	GetLogger().Debug("should be filtered")
	GetLogger().Info("should appear")

	out := sink.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}

func TestGetLoggerBeforeInitializeReturnsFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback must be usable without panicking.
	logger.Info("fallback path")
}

func TestJSONEncoderSelected(t *testing.T) {
	enc := getEncoder(config.LoggerConfig{Format: "json"})
	entry := zapcore.Entry{Level: zapcore.InfoLevel, Message: "structured"}
	buf, err := enc.EncodeEntry(entry, []zapcore.Field{zap.String("k", "v")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"structured"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestSyncWithoutLoggerIsNoop(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	Sync()
}
