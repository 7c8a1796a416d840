package logging

import (
	"context"
	"log/slog"

	"meetscribe/internal/services"
)

// Structured log keys shared by every component.
const (
	FieldComponent     = "component"
	FieldSessionID     = "session_id"
	FieldChunkIndex    = "chunk_index"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	FieldImpact        = "impact"
	FieldAlert         = "alert"
)

// ContextFields turns the pipeline metadata carried by ctx into attributes,
// in session, chunk, component, correlation order.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	addString := func(key string, value string, ok bool) {
		if ok {
			fields = append(fields, slog.String(key, value))
		}
	}
	id, ok := services.SessionIDFromContext(ctx)
	addString(FieldSessionID, id, ok)
	if idx, ok := services.ChunkIndexFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldChunkIndex, idx))
	}
	component, ok := services.ComponentFromContext(ctx)
	addString(FieldComponent, component, ok)
	rid, ok := services.RequestIDFromContext(ctx)
	addString(FieldCorrelationID, rid, ok)
	return fields
}

// WithContext binds the fields from ContextFields to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(toArgs(fields)...)
	}
	return logger
}
