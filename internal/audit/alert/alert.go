// Package alert holds the suspicious-event alert sinks the recorder can hand
// committed events to.
package alert

import (
	"context"
	"log/slog"

	"auditlog/internal/audit"
)

// Noop discards alerts. It is the default when no stream is configured.
type Noop struct{}

func (Noop) PublishSuspicious(context.Context, audit.Event) error { return nil }

// Logging writes each alert to a logger at warn level. Used in development
// in place of a broker.
type Logging struct {
	Logger *slog.Logger
}

func (l Logging) PublishSuspicious(ctx context.Context, e audit.Event) error {
	l.Logger.WarnContext(ctx, "suspicious activity alert",
		"audit_id", e.ID,
		"event_type", e.EventType,
		"ip", e.IPAddress,
		"user", e.UserEmail,
		"log_type", "alert",
	)
	return nil
}

var (
	_ audit.AlertPublisher = Noop{}
	_ audit.AlertPublisher = Logging{}
)
