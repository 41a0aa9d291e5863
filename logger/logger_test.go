package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, slog.LevelInfo, config.Level)
	assert.Equal(t, "json", config.Format)
	assert.False(t, config.AddSource)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_ADD_SOURCE", "true")

	config := LoadConfig()
	assert.Equal(t, slog.LevelDebug, config.Level)
	assert.Equal(t, "text", config.Format)
	assert.True(t, config.AddSource)
}

func TestLoadConfigNumericLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "8")
	config := LoadConfig()
	assert.Equal(t, slog.Level(8), config.Level)
}

func TestLoadConfigIgnoresInvalidFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")
	config := LoadConfig()
	assert.Equal(t, "json", config.Format)
}

func TestNewLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: slog.LevelInfo, Format: "json", Writer: &buf})

	log.Info("hello", "key", "value")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "value", record["key"])
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: slog.LevelWarn, Format: "text", Writer: &buf})

	log.Info("quiet")
	log.Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestSetLoggerIgnoresNil(t *testing.T) {
	orig := Logger
	defer SetLogger(orig)

	SetLogger(nil)
	assert.Same(t, orig, Logger)

	var buf bytes.Buffer
	replacement := NewLogger(Config{Level: slog.LevelInfo, Format: "text", Writer: &buf})
	SetLogger(replacement)
	Info("routed")
	assert.True(t, strings.Contains(buf.String(), "routed"))
}
