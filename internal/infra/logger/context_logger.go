package logger

import (
	"context"
	"log/slog"
	"strings"
)

type ContextKey string

const (
	SessionIDKey  ContextKey = "session_id"
	RequestIDKey  ContextKey = "request_id"
	DocumentIDKey ContextKey = "document_id"
)

var contextKeys = []ContextKey{SessionIDKey, RequestIDKey, DocumentIDKey}

// WithSessionID adds the dialog session to context for observability
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithRequestID adds the HTTP request id to context for observability
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithDocumentID adds the corpus document being ingested to context
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, DocumentIDKey, documentID)
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
