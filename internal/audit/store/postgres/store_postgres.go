// Package postgres is the PostgreSQL audit store, driven through pgx's
// database/sql adapter.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"auditlog/internal/audit/store/sqlstore"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          BIGSERIAL PRIMARY KEY,
		timestamp   TIMESTAMPTZ NOT NULL,
		event_type  TEXT        NOT NULL,
		outcome     TEXT        NOT NULL CHECK (outcome IN ('success', 'failure', 'blocked')),
		user_email  TEXT,
		user_role   TEXT,
		ip_address  TEXT        NOT NULL,
		user_agent  TEXT,
		endpoint    TEXT,
		method      TEXT,
		metadata    TEXT,
		suspicious  BOOLEAN     NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs (event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_ip_address ON audit_logs (ip_address)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_suspicious ON audit_logs (suspicious)`,
	// The detector's window counts: equality on the key and kind, range on time.
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_ip_window ON audit_logs (ip_address, event_type, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_email_window ON audit_logs (user_email, event_type, timestamp)`,
}

// Dialect describes PostgreSQL to the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Schema:      schema,
	Placeholder: sqlstore.NumberedPlaceholder,
	Contains: func(column, placeholder string) string {
		return fmt.Sprintf("strpos(%s, %s) > 0", column, placeholder)
	},
	EncodeTime: func(t time.Time) any {
		return t.UTC()
	},
	Precision: time.Microsecond,
	SnapshotTx: &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	},
}

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects using pgx and applies the schema.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
