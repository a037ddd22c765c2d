package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/hookrelay/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logging.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceHandlerAddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "json", "info")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.With("component", "test").InfoContext(ctx, "delivered", "job_id", "job_123")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if line["trace_id"] != traceID.String() {
		t.Fatalf("expected trace_id, got %v", line["trace_id"])
	}
	if line["span_id"] != spanID.String() {
		t.Fatalf("expected span_id, got %v", line["span_id"])
	}
	if line["component"] != "test" || line["job_id"] != "job_123" {
		t.Fatalf("missing attributes: %v", line)
	}
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "text", "debug")

	logger.DebugContext(context.Background(), "polling")

	out := buf.String()
	if !strings.Contains(out, "msg=polling") {
		t.Fatalf("expected text output, got %q", out)
	}
	if strings.Contains(out, "trace_id") {
		t.Fatal("no trace_id without an active span")
	}
}
