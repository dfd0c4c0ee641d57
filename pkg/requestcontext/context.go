// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; the recorder and services read them. Keeping the
// package free of net/http lets the audit core depend on it without pulling in
// transport code.
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithPrincipal(ctx, "admin@example.com", "admin")
package requestcontext

import (
	"context"
	"time"
)

type (
	principalKey   struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	endpointKey    struct{}
	methodKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Principal is the authenticated caller as asserted by a verified token.
type Principal struct {
	Email string
	Role  string
}

// -----------------------------------------------------------------------------
// Principal
// -----------------------------------------------------------------------------

// WithPrincipal injects the authenticated caller into the context.
func WithPrincipal(ctx context.Context, email, role string) context.Context {
	return context.WithValue(ctx, principalKey{}, Principal{Email: email, Role: role})
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, endpoint, method)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// Endpoint retrieves the request path from the context.
func Endpoint(ctx context.Context) string {
	if ep, ok := ctx.Value(endpointKey{}).(string); ok {
		return ep
	}
	return ""
}

// Method retrieves the request verb from the context.
func Method(ctx context.Context) string {
	if m, ok := ctx.Value(methodKey{}).(string); ok {
		return m
	}
	return ""
}

// WithClientMetadata injects the request identity tuple into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent, endpoint, method string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	ctx = context.WithValue(ctx, endpointKey{}, endpoint)
	ctx = context.WithValue(ctx, methodKey{}, method)
	return ctx
}

// HasClientMetadata reports whether client metadata was injected.
func HasClientMetadata(ctx context.Context) bool {
	_, ok := ctx.Value(clientIPKey{}).(string)
	return ok
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like the CLI or tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// The recorder pins one instant this way so classification and insertion agree on "now".
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
