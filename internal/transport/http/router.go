// Package httptransport assembles the chi router: shared middleware, public
// auth routes, and the admin-only audit and document routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	audithandler "auditlog/internal/audit/handler"
	authhandler "auditlog/internal/auth/handler"
	"auditlog/internal/document"
	ratelimit "auditlog/internal/ratelimit/middleware"
	"auditlog/internal/ratelimit/models"
	"auditlog/pkg/platform/httputil"
	"auditlog/pkg/platform/middleware/admin"
	authmw "auditlog/pkg/platform/middleware/auth"
	metadata "auditlog/pkg/platform/middleware/metadata"
	"auditlog/pkg/platform/middleware/request"
	"auditlog/pkg/platform/middleware/requesttime"
	"auditlog/pkg/requestcontext"
)

// Dependencies are the collaborators the router mounts. Document may be nil.
type Dependencies struct {
	Logger         *slog.Logger
	Gatherer       prometheus.Gatherer
	MetricsToken   string
	RequestTimeout time.Duration
	AdminRole      string

	Auth      *authmw.Middleware
	RateLimit *ratelimit.Middleware
	LoginRule models.Rule
	APIRule   models.Rule

	Audit    *audithandler.Handler
	Login    *authhandler.Handler
	Document *document.Handler

	// Health reports backend readiness for GET /health.
	Health func(ctx context.Context) error
}

func NewRouter(d Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(d.Logger))
	if d.RequestTimeout > 0 {
		r.Use(request.Timeout(d.RequestTimeout))
	}

	r.Get("/health", healthHandler(d.Health))
	r.With(admin.RequireAdminToken(d.MetricsToken, d.Logger)).
		Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(d.RateLimit.RateLimit(d.APIRule))
		d.Login.Register(r, d.RateLimit.RateLimit(d.LoginRule), d.Auth.RequireAuth)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.RequireAuth)
			r.With(d.Auth.LogProtectedAccess).Get("/api/me", handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.RequireAuth)
			r.Use(d.Auth.RequireRole(d.AdminRole))
			d.Audit.Register(r)
			if d.Document != nil {
				d.Document.Register(r)
			}
		})
	})
	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleMe returns the authenticated caller.
func handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := requestcontext.PrincipalFrom(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"email": p.Email, "role": p.Role})
}
