package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type scopeCtxKey struct{}

// WithScopeID tags ctx with the id of the scope a call is made for.
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scopeID)
}

// ScopeIDFromContext returns the scope id set by WithScopeID.
func ScopeIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(scopeCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 3)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := ScopeIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("scope.id", id))
	}
	return fields
}
