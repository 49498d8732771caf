// Package requestcontext provides context accessors for values scoped to one
// unit of work: a queue message, a job run or an operator request.
//
// Usage in services (read values):
//
//	now := requestcontext.Now(ctx)
//	corr := requestcontext.CorrelationID(ctx)
//
// Usage in tests and workers (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithCorrelationID(ctx, "msg-42")
package requestcontext

import (
	"context"
	"time"
)

type (
	correlationIDKey struct{}
	unitTimeKey      struct{}
)

var (
	ContextKeyCorrelationID = correlationIDKey{}
	ContextKeyUnitTime      = unitTimeKey{}
)

// CorrelationID retrieves the id tying log lines of one message or run together.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID injects a correlation id into the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationID, id)
}

// Now retrieves the unit-scoped time from context.
// Falls back to time.Now() if not set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyUnitTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the clock for everything downstream of ctx. Job runs pin it
// once so every supporter in a batch is evaluated against the same instant.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyUnitTime, t)
}
