// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/tandem-cli/internal/config"
)

// newBufferedLogger resets global state and initializes the logger against an in-memory buffer.
func newBufferedLogger(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		buf := newBufferedLogger(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorGreen, "Info level should be colorized green")
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.", "console names carry a trailing dot")
	})

	t.Run("should leave level uncolored when no color is configured", func(t *testing.T) {
		buf := newBufferedLogger(t, config.LoggerConfig{Level: "debug", Format: "console"})

		GetLogger().Warn("plain")
		Sync()

		assert.Contains(t, buf.String(), "WARN")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		buf := newBufferedLogger(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		})

		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")
		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		buf := newBufferedLogger(t, config.LoggerConfig{Level: "warn", Format: "json"})

		GetLogger().Info("hidden")
		GetLogger().Error("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		buf := newBufferedLogger(t, config.LoggerConfig{Level: "chatty", Format: "json"})

		GetLogger().Debug("debug entry")
		GetLogger().Info("info entry")
		Sync()

		assert.NotContains(t, buf.String(), "debug entry")
		assert.Contains(t, buf.String(), "info entry")
	})

	t.Run("should write json to a log file if configured", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "tandem-test.log")
		newBufferedLogger(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: logPath,
			MaxSize: 1,
		})

		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		firstLine := strings.SplitN(strings.TrimSpace(string(content)), "\n", 2)[0]
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(firstLine), &entry), "file output is JSON even for console format")
		assert.Equal(t, "This should go to the file.", entry["msg"])
	})

	t.Run("should only initialize once", func(t *testing.T) {
		buf := newBufferedLogger(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		logger1 := GetLogger()

		var ignored bytes.Buffer
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&ignored))
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("test")
		Sync()

		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
		assert.Zero(t, ignored.Len())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		newBufferedLogger(t, config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}

func TestSyncWithoutLogger(t *testing.T) {
	ResetForTest()
	assert.NotPanics(t, Sync)
}
