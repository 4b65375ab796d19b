// Package ctxkeys defines the request-scoped context keys shared between the
// HTTP middleware and the handlers.
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	callerKeyKey contextKey = "caller_key"
)

// WithRequestID stores the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID, if set.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithCallerKey stores the authenticated caller's quota key.
func WithCallerKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, callerKeyKey, key)
}

// CallerKey returns the caller's quota key, if set.
func CallerKey(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callerKeyKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
