package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/realmprobe/internal/config"
)

// setupTestLogger initializes the global logger to write to a buffer.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	initializeLogger(cfg, zapcore.AddSync(buf))
	return buf
}

// resetGlobalLogger ensures test isolation; the logger is a global
// singleton guarded by a sync.Once.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

func TestInitializeLogger_ConsoleWithColors(t *testing.T) {
	resetGlobalLogger()
	buf := setupTestLogger(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "realmprobe-test",
		Colors:      config.ColorConfig{Info: "green", Error: "red"},
	})

	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Info("colorful message")
	logger.Error("angry message")

	out := buf.String()
	assert.Contains(t, out, "colorful message")
	assert.Contains(t, out, colorGreen+"INFO"+colorReset)
	assert.Contains(t, out, colorRed+"ERROR"+colorReset)
}

func TestInitializeLogger_JSONHasNoColorCodes(t *testing.T) {
	resetGlobalLogger()
	buf := setupTestLogger(config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "realmprobe-test",
		Colors:      config.ColorConfig{Info: "green"},
	})

	GetLogger().Info("structured message")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.NotContains(t, line, "\x1b[")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "structured message", entry["msg"])
}

func TestInitializeLogger_LevelFiltering(t *testing.T) {
	resetGlobalLogger()
	buf := setupTestLogger(config.LoggerConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "realmprobe-test",
	})

	logger := GetLogger()
	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestGetLogger_FallbackBeforeInit(t *testing.T) {
	resetGlobalLogger()
	logger := GetLogger()
	require.NotNil(t, logger, "GetLogger must never return nil")
}

func TestInitializeLogger_OnlyOnce(t *testing.T) {
	resetGlobalLogger()
	buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"})

	// A second initialization must not replace the first.
	second := new(bytes.Buffer)
	initializeLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, zapcore.AddSync(second))

	GetLogger().Info("routed")
	assert.Contains(t, buf.String(), "routed")
	assert.Empty(t, second.String())
}
