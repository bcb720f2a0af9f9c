package events_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/config"
	"github.com/TheMichaelB/axcrypt/internal/events"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.LogConfig{
		Level:  "debug",
		Format: "json",
		File:   "",
	}

	logger, err := events.NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.Equal(t, events.DebugLevel, logger.Level())
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "axcrypt.log")
	logger, err := events.NewLogger(&config.LogConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())
	assert.FileExists(t, path)
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	logger.WithField("test_key", "test_value").Info("test message")

	output := buf.String()
	assert.Contains(t, output, `"test_key":"test_value"`)
	assert.Contains(t, output, `"msg":"test message"`)
	assert.Contains(t, output, `"level":"info"`)
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	fields := map[string]interface{}{
		"operation": "encrypt",
		"path":      "/docs/report.txt",
	}

	logger.WithFields(fields).Info("multi-field test")

	output := buf.String()
	assert.Contains(t, output, `"operation":"encrypt"`)
	assert.Contains(t, output, `"path":"/docs/report.txt"`)
	assert.Contains(t, output, `"msg":"multi-field test"`)
}

func TestLoggerFieldsDoNotLeakToParent(t *testing.T) {
	var buf bytes.Buffer
	parent := events.NewTestLogger(events.InfoLevel, "json", &buf)
	_ = parent.WithField("child_only", true)

	parent.Info("parent message")
	assert.NotContains(t, buf.String(), "child_only")
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  events.LogLevel
		msgLevel  events.LogLevel
		shouldLog bool
	}{
		{"debug logger, debug message", events.DebugLevel, events.DebugLevel, true},
		{"debug logger, info message", events.DebugLevel, events.InfoLevel, true},
		{"info logger, debug message", events.InfoLevel, events.DebugLevel, false},
		{"info logger, info message", events.InfoLevel, events.InfoLevel, true},
		{"error logger, warn message", events.ErrorLevel, events.WarnLevel, false},
		{"error logger, error message", events.ErrorLevel, events.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := events.NewTestLogger(tt.logLevel, "text", &buf)

			switch tt.msgLevel {
			case events.DebugLevel:
				logger.Debug("test debug")
			case events.InfoLevel:
				logger.Info("test info")
			case events.WarnLevel:
				logger.Warn("test warn")
			case events.ErrorLevel:
				logger.Error("test error")
			}

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "text", &buf)

	logger.WithField("key", "value").Info("test message")

	output := buf.String()
	assert.Contains(t, output, "level=info")
	assert.Contains(t, output, `msg="test message"`)
	assert.Contains(t, output, "key=value")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	err := assert.AnError
	logger.WithError(err).Error("operation failed")

	output := buf.String()
	assert.Contains(t, output, `"error":"assert.AnError general error for testing"`)
	assert.Contains(t, output, `"msg":"operation failed"`)
	assert.Contains(t, output, `"level":"error"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, events.DebugLevel, events.ParseLevel("DEBUG"))
	assert.Equal(t, events.WarnLevel, events.ParseLevel("warning"))
	assert.Equal(t, events.ErrorLevel, events.ParseLevel("error"))
	assert.Equal(t, events.InfoLevel, events.ParseLevel("bogus"))
}

func TestDiscard(t *testing.T) {
	logger := events.Discard()
	assert.NotPanics(t, func() {
		logger.WithField("k", "v").Error("dropped")
	})
}
