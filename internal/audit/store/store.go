// Package store opens the audit backend named in configuration.
package store

import (
	"context"
	"fmt"

	"auditlog/internal/audit"
	"auditlog/internal/audit/store/memory"
	"auditlog/internal/audit/store/postgres"
	"auditlog/internal/audit/store/sqlite"
	"auditlog/internal/platform/config"
)

// Backend is an audit store that can report its own health.
type Backend interface {
	audit.Store
	Ping(ctx context.Context) error
}

// Open connects the configured driver and applies its schema.
func Open(ctx context.Context, cfg config.Store) (Backend, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return memory.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
