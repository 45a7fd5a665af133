package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stacklok/toolhive-core/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
		valid    bool
	}{
		{input: "", expected: slog.LevelInfo, valid: true},
		{input: "DEBUG", expected: slog.LevelDebug, valid: true},
		{input: "warning", expected: slog.LevelWarn, valid: true},
		{input: "error", expected: slog.LevelError, valid: true},
		{input: "verbose", expected: slog.LevelInfo, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			level, ok := parseLogLevel(tt.input)
			assert.Equal(t, tt.expected, level)
			assert.Equal(t, tt.valid, ok)
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, logging.FormatText, parseLogFormat("Text"))
	assert.Equal(t, logging.FormatJSON, parseLogFormat("json"))
	assert.Equal(t, logging.FormatJSON, parseLogFormat(""))
}

func TestNewLogHandler_InjectsTraceIDs(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("LOG_LEVEL", "debug")
	var out bytes.Buffer
	logger := slog.New(newLogHandler(v, &out)).With("agent", "ad")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	logger.DebugContext(trace.ContextWithSpanContext(context.Background(), sc), "Run attempt finished")

	var record map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &record))
	assert.Equal(t, "Run attempt finished", record["msg"])
	assert.Equal(t, "ad", record["agent"])
	assert.Equal(t, sc.TraceID().String(), record["trace_id"])
	assert.Equal(t, sc.SpanID().String(), record["span_id"])
}

func TestNewLogHandler_LevelAndFormat(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("LOG_LEVEL", "verbose")
	v.Set("LOG_FORMAT", "text")
	var out bytes.Buffer
	logger := slog.New(newLogHandler(v, &out))

	logger.Debug("hidden")
	logger.Info("Controller started")

	text := out.String()
	assert.Contains(t, text, "Invalid RUNCTL_LOG_LEVEL")
	assert.Contains(t, text, "msg=\"Controller started\"")
	assert.NotContains(t, text, "hidden")
	assert.False(t, strings.HasPrefix(text, "{"), "text format does not log JSON")
}
