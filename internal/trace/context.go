// Package trace carries correlation and tracing context through the
// orchestrator (spec §4.8) and bridges it to OpenTelemetry spans.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// Context is an immutable snapshot of correlation identifiers for a single
// logical operation. Unlike shared.TraceID in the upstream coordinator, it
// carries the full span lineage so a supervisor hop can be correlated back
// to the request that started it.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	RequestID    string
	UserID       string
}

type ctxKey struct{}

// NewRoot creates a fresh Context with a new trace_id and no parent span,
// for use at the boundary where a request first enters the orchestrator.
func NewRoot(requestID, userID string) Context {
	return Context{
		TraceID:   uuid.NewString(),
		SpanID:    uuid.NewString(),
		RequestID: requestID,
		UserID:    userID,
	}
}

// Child derives a new span under c, keeping the same trace_id and
// propagating c's span as the new parent. Used whenever the supervisor
// delegates a hop or the executor issues a sub-task.
func (c Context) Child() Context {
	return Context{
		TraceID:      c.TraceID,
		SpanID:       uuid.NewString(),
		ParentSpanID: c.SpanID,
		RequestID:    c.RequestID,
		UserID:       c.UserID,
	}
}

// WithContext attaches c to ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext extracts the Context previously attached with WithContext.
// Returns a zero-value Context with TraceID "-" if none was attached, mirroring
// the upstream coordinator's convention of a visible placeholder over a panic.
func FromContext(ctx context.Context) Context {
	if c, ok := ctx.Value(ctxKey{}).(Context); ok && c.TraceID != "" {
		return c
	}
	return Context{TraceID: "-"}
}
