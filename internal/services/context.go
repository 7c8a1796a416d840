package services

import "context"

// ctxKey keys pipeline metadata stored on a context.
type ctxKey int

const (
	keySession ctxKey = iota
	keyChunk
	keyComponent
	keyCorrelation
)

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup[T comparable](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	if !ok {
		return zero, false
	}
	return v, true
}

func lookupString(ctx context.Context, key ctxKey) (string, bool) {
	v, ok := lookup[string](ctx, key)
	return v, ok && v != ""
}

// WithSessionID tags ctx with the recording session it serves.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, keySession, id)
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	return lookupString(ctx, keySession)
}

// WithChunkIndex tags ctx with the chunk sequence number being processed.
func WithChunkIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, keyChunk, index)
}

func ChunkIndexFromContext(ctx context.Context) (int, bool) {
	return lookup[int](ctx, keyChunk)
}

// WithComponent tags ctx with the pipeline stage name (dispatcher, uploader, ...).
func WithComponent(ctx context.Context, component string) context.Context {
	return withString(ctx, keyComponent, component)
}

func ComponentFromContext(ctx context.Context) (string, bool) {
	return lookupString(ctx, keyComponent)
}

// WithRequestID tags ctx with a correlation id, usually the ingest request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, keyCorrelation, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return lookupString(ctx, keyCorrelation)
}
