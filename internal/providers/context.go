package providers

import "context"

type requestIDKeyType struct{}

// RequestIDKey is the context key under which the current request id is
// stored, so adapters can forward it to the back-end as a tracing header
// without threading it through every function signature.
var RequestIDKey = requestIDKeyType{}

// WithRequestID returns a context carrying the given request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request id from context, or "" if absent.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
