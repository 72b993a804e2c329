package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestTraceContextHandler_AddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewTraceContextHandler(newJSONHandler(&buf, slog.LevelInfo)))

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithRequestID(ctx, "req-9")
	log.InfoContext(ctx, "ask_completed", slog.Int("sources", 2))

	line := decodeLine(t, &buf)
	assert.Equal(t, "ask_completed", line["msg"])
	assert.Equal(t, "sess-1", line["session_id"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.NotContains(t, line, "document_id")
	assert.NotContains(t, line, "trace_id")
}

func TestTraceContextHandler_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewTraceContextHandler(newJSONHandler(&buf, slog.LevelInfo)))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	log.InfoContext(ctx, "vector_query_done")

	line := decodeLine(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", line["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", line["span_id"])
}

func TestTraceContextHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewTraceContextHandler(newJSONHandler(&buf, slog.LevelWarn)))

	log.Info("dropped")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
