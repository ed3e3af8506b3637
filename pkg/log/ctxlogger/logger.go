package ctxlogger

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

type questionKey struct{}
type correlationKey struct{}

var serviceName atomic.Pointer[string]

// SetServiceName configures the service name added to every log entry.
func SetServiceName(name string) {
	serviceName.Store(&name)
}

// ContextWithQuestion annotates the context with the question being handled.
func ContextWithQuestion(ctx context.Context, questionID string) context.Context {
	if questionID == "" {
		return ctx
	}
	return context.WithValue(ctx, questionKey{}, questionID)
}

// ContextWithCorrelationID annotates the context with a caller-supplied
// correlation id, typically taken from an inbound request header.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// FromContext returns a logger enriched with metadata from the context.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext enriches the provided logger using metadata in the context.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 3)
	if namePtr := serviceName.Load(); namePtr != nil {
		fields = append(fields, zap.String("service", *namePtr))
	}
	if cid, ok := ctx.Value(correlationKey{}).(string); ok && cid != "" {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if qid, ok := ctx.Value(questionKey{}).(string); ok && qid != "" {
		fields = append(fields, zap.String("question_id", qid))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
