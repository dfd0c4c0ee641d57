// Package handler exposes the admin audit endpoints over chi.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"auditlog/internal/audit"
	"auditlog/pkg/platform/httputil"
	"auditlog/pkg/requestcontext"
)

// Service defines the read operations the handler needs.
type Service interface {
	Query(ctx context.Context, f audit.Filter, p audit.Page) (*audit.QueryResult, error)
	Stats(ctx context.Context) (*audit.Summary, error)
}

// Recorder is the audit write boundary.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Handler wires admin audit endpoints to the audit service.
type Handler struct {
	service  Service
	recorder Recorder
	logger   *slog.Logger
}

// New constructs an admin audit handler with its dependencies.
func New(service Service, recorder Recorder, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		recorder: recorder,
		logger:   logger,
	}
}

// Register mounts the endpoints. Callers gate the router with authentication
// and the admin role.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/admin/logs", h.HandleLogs)
	r.Get("/api/admin/stats", h.HandleStats)
}

// HandleLogs handles GET /api/admin/logs.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req := ParseLogsRequest(r.URL.Query())
	result, err := h.service.Query(ctx, req.Filter, req.Page)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit log query failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	err = h.recorder.Record(ctx, audit.Entry{
		EventType: audit.EventAdminAction,
		Outcome:   audit.OutcomeSuccess,
		Metadata: audit.MetadataOf(map[string]any{
			"action":  "view_audit_logs",
			"filters": appliedFilters(r.URL.Query()),
		}),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "admin action not recorded",
			"request_id", requestID,
			"error", err,
		)
	}

	h.logger.InfoContext(ctx, "audit logs viewed",
		"request_id", requestID,
		"total", result.Total,
		"returned", len(result.Logs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleStats handles GET /api/admin/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := h.service.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}
