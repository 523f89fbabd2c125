package types

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores the request/trace ID in the context. It is set by the
// API middleware for HTTP requests and by workers from the job's TraceID, so
// outbound calls and log lines correlate across the pipeline.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request/trace ID from the context.
// Returns "" when unset.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
