// Package main is the entry point for the runctl run controller.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/stacklok/toolhive-core/logging"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/runctl/cmd/runctl/app"
	"github.com/stacklok/runctl/internal/config"
)

// logEnv reads RUNCTL_LOG_LEVEL and RUNCTL_LOG_FORMAT
func logEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// parseLogLevel maps a level name to its slog.Level. Empty and unknown names select INFO.
func parseLogLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// parseLogFormat selects text output for local use; everything else logs JSON
func parseLogFormat(name string) logging.Format {
	if strings.EqualFold(name, "text") {
		return logging.FormatText
	}
	return logging.FormatJSON
}

// newLogHandler builds the process log handler. Records of a span carry its trace and span IDs.
func newLogHandler(v *viper.Viper, out io.Writer) slog.Handler {
	levelStr := v.GetString("LOG_LEVEL")
	level, ok := parseLogLevel(levelStr)

	handler := &traceHandler{Handler: logging.NewHandler(
		logging.WithLevel(level),
		logging.WithFormat(parseLogFormat(v.GetString("LOG_FORMAT"))),
		logging.WithOutput(out),
	)}
	if !ok {
		slog.New(handler).Warn("Invalid RUNCTL_LOG_LEVEL, using INFO", "value", levelStr)
	}
	return handler
}

// traceHandler injects the OpenTelemetry trace_id and span_id of the record's context
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

func main() {
	// stdout stays clean for commands that print data, such as version --format json
	slog.SetDefault(slog.New(newLogHandler(logEnv(), os.Stderr)))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
