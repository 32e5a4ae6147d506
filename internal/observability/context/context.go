package context

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	visitorIDKey contextKey = "visitor_id"
)

// WithRequestID attaches the request correlation id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id or empty string.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithVisitorID attaches the browser visitor id to the context.
func WithVisitorID(ctx context.Context, visitorID string) context.Context {
	if visitorID == "" {
		return ctx
	}
	return context.WithValue(ctx, visitorIDKey, visitorID)
}

// VisitorIDFromContext returns the visitor id or empty string.
func VisitorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}
