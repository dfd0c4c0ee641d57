// Package document serves files from the secure document directory to
// admins. Every request is recorded as a SENSITIVE_API event.
package document

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"auditlog/internal/audit"
	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/platform/httputil"
	"auditlog/pkg/requestcontext"
)

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

type Handler struct {
	dir      string
	recorder AuditRecorder
	logger   *slog.Logger
}

func New(dir string, recorder AuditRecorder, logger *slog.Logger) *Handler {
	return &Handler{dir: dir, recorder: recorder, logger: logger}
}

// Register mounts GET /api/secure-doc/{name}. Callers gate it with
// authentication and the admin role.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/secure-doc/{name}", h.HandleGet)
}

// HandleGet handles GET /api/secure-doc/{name}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	name := SafeName(raw)
	if name == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid document name"))
		return
	}

	if err := h.recorder.Record(ctx, audit.Entry{
		EventType: audit.EventSensitiveAPI,
		Outcome:   audit.OutcomeSuccess,
		Metadata:  audit.MetadataOf(map[string]string{"document": name}),
	}); err != nil {
		h.logger.ErrorContext(ctx, "sensitive access not recorded",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}

	f, err := os.Open(filepath.Join(h.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "document not found"))
			return
		}
		h.logger.ErrorContext(ctx, "open document failed", "document", name, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "open document"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "document not found"))
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// SafeName reduces a requested name to its final path element so a request
// cannot leave the document directory. It returns "" for names with no file
// component.
func SafeName(raw string) string {
	name := path.Base(filepath.ToSlash(raw))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}
