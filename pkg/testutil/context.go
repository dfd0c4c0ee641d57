package testutil

import (
	"net/http"

	"auditlog/pkg/requestcontext"
)

// WithPrincipal attaches an authenticated email and role to the request, as
// the auth middleware would after verifying a bearer token.
func WithPrincipal(req *http.Request, email, role string) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), email, role))
}

// WithClient attaches client metadata to the request. Endpoint and method are
// taken from the request itself.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, userAgent, req.URL.Path, req.Method)
	return req.WithContext(ctx)
}

// PrincipalMiddleware injects a fixed principal into every request.
func PrincipalMiddleware(email, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, WithPrincipal(r, email, role))
		})
	}
}
