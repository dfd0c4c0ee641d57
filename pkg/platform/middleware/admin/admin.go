// Package admin guards operational endpoints with a static shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/platform/httputil"
	request "auditlog/pkg/platform/middleware/request"
)

// RequireAdminToken admits requests whose X-Admin-Token header equals
// expectedToken. An empty expectedToken disables the check.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expectedToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
