// Package auth authenticates bearer tokens and gates routes by role. Every
// rejection is written to the audit log before the response goes out.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"auditlog/internal/audit"
	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/platform/httputil"
	"auditlog/pkg/platform/middleware/metadata"
	"auditlog/pkg/platform/middleware/request"
	"auditlog/pkg/requestcontext"
)

// ErrTokenExpired is returned by validators for well-formed tokens past their
// expiry. Any other validation error is treated as an invalid token.
var ErrTokenExpired = errors.New("token expired")

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	Email string
	Role  string
}

// AuditRecorder is the audit write boundary.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Middleware bundles the collaborators the auth handlers share.
type Middleware struct {
	validator JWTValidator
	recorder  AuditRecorder
	logger    *slog.Logger
}

func New(validator JWTValidator, recorder AuditRecorder, logger *slog.Logger) *Middleware {
	return &Middleware{validator: validator, recorder: recorder, logger: logger}
}

// RequireAuth admits requests carrying a valid bearer token and stores the
// principal in the context. Missing tokens answer 401; expired or invalid
// tokens answer 403.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := request.GetRequestID(ctx)

		token, ok := bearerToken(r)
		if !ok {
			m.logger.WarnContext(ctx, "unauthorized access - missing token",
				"request_id", requestID,
			)
			m.record(r, audit.Entry{
				EventType: audit.EventUnauthorized,
				Outcome:   audit.OutcomeFailure,
				Metadata:  audit.MetadataOf(map[string]string{"reason": "missing_token"}),
			})
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing auth token"))
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			kind, desc := audit.EventTokenInvalid, "Invalid token"
			if errors.Is(err, ErrTokenExpired) {
				kind, desc = audit.EventTokenExpired, "Token expired, please log in again"
			}
			m.logger.WarnContext(ctx, "unauthorized access - token rejected",
				"event_type", kind,
				"error", err,
				"request_id", requestID,
			)
			m.record(r, audit.Entry{
				EventType: kind,
				Outcome:   audit.OutcomeFailure,
				Metadata:  audit.MetadataOf(map[string]string{"error": err.Error()}),
			})
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, desc))
			return
		}

		ctx = requestcontext.WithPrincipal(ctx, claims.Email, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits authenticated principals whose role is one of roles.
// It must run after RequireAuth.
func (m *Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := requestcontext.PrincipalFrom(ctx)
			if !ok {
				m.logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}

			if !slices.Contains(roles, principal.Role) {
				m.logger.WarnContext(ctx, "access denied - role mismatch",
					"user", principal.Email,
					"role", principal.Role,
					"required", roles,
					"request_id", request.GetRequestID(ctx),
				)
				m.record(r, audit.Entry{
					EventType: audit.EventAccessDenied,
					Outcome:   audit.OutcomeFailure,
					UserEmail: principal.Email,
					UserRole:  principal.Role,
					Metadata: audit.MetadataOf(map[string]any{
						"required": roles,
						"actual":   principal.Role,
					}),
				})
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden,
					"Access denied, requires role: "+strings.Join(roles, " or ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LogProtectedAccess records every authorized request to a protected route.
func (m *Middleware) LogProtectedAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.record(r, audit.Entry{
			EventType: audit.EventProtectedAccess,
			Outcome:   audit.OutcomeSuccess,
		})
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) record(r *http.Request, entry audit.Entry) {
	if entry.Identity == nil && !requestcontext.HasClientMetadata(r.Context()) {
		id := metadata.Extract(r)
		entry.Identity = &id
	}
	if err := m.recorder.Record(r.Context(), entry); err != nil {
		m.logger.ErrorContext(r.Context(), "audit entry rejected",
			"event_type", entry.EventType,
			"error", err,
			"request_id", request.GetRequestID(r.Context()),
		)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const bearerPrefix = "Bearer "
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}
