package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// NewCorrelationID returns a short random identifier for tying log lines together.
func NewCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a context carrying the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger annotated with the context's correlation ID.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if id := CorrelationIDFromContext(ctx); id != "" {
		l = l.With().Str("correlation_id", id).Logger()
	}
	return &l
}
