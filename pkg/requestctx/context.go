// Package requestctx associates in-flight HTTP requests with a correlation
// id and exposes the resulting request context to downstream code without
// explicit parameter threading.
package requestctx

import "context"

// Context is the ephemeral, process-local record of one in-flight request.
// It is keyed by CorrelationID in the Store and deleted when the request
// finishes.
type Context struct {
	CorrelationID string `json:"correlationId"`
	UserID        string `json:"userId,omitempty"`
	UserEmail     string `json:"userEmail,omitempty"`
	IPAddress     string `json:"ipAddress"`
	UserAgent     string `json:"userAgent"`

	// Timestamp is the context-creation time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Identity is the authenticated principal attached to a request by the
// external auth layer.
type Identity struct {
	UserID    string
	UserEmail string
	Role      string
}

type contextKey string

const (
	identityKey       contextKey = "requestctx_identity"
	requestContextKey contextKey = "requestctx_context"
)

// WithIdentity attaches an authenticated identity to the context. The auth
// middleware calls this before the propagation middleware runs.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// withRequestContext attaches the request context so downstream code can
// read it without a store lookup.
func withRequestContext(ctx context.Context, rc Context) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// FromContext retrieves the request context attached by the middleware.
func FromContext(ctx context.Context) (Context, bool) {
	rc, ok := ctx.Value(requestContextKey).(Context)
	return rc, ok
}
