package logger

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	userIDKey  ctxKey = "user_id"
	roleKey    ctxKey = "role"
)

// NewTraceID generates a random trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores the trace id in ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID returns the trace id stored in ctx, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithUser stores the authenticated subject and role in ctx.
func WithUser(ctx context.Context, userID, role string) context.Context {
	if userID != "" {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	if role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	return ctx
}

// UserID returns the authenticated subject stored in ctx.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// Role returns the authenticated role stored in ctx.
func Role(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}
