// Package sqlite is the embedded audit store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"auditlog/internal/audit/store/sqlstore"
)

// timeLayout is fixed width so lexical order on the TEXT column matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp   TEXT    NOT NULL,
		event_type  TEXT    NOT NULL,
		outcome     TEXT    NOT NULL CHECK (outcome IN ('success', 'failure', 'blocked')),
		user_email  TEXT,
		user_role   TEXT,
		ip_address  TEXT    NOT NULL,
		user_agent  TEXT,
		endpoint    TEXT,
		method      TEXT,
		metadata    TEXT,
		suspicious  BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs (event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_ip_address ON audit_logs (ip_address)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_suspicious ON audit_logs (suspicious)`,
	// The detector's window counts: equality on the key and kind, range on time.
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_ip_window ON audit_logs (ip_address, event_type, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_email_window ON audit_logs (user_email, event_type, timestamp)`,
}

// Dialect describes SQLite to the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:        "sqlite",
	Schema:      schema,
	Placeholder: sqlstore.QuestionPlaceholder,
	Contains: func(column, placeholder string) string {
		return fmt.Sprintf("instr(%s, %s) > 0", column, placeholder)
	},
	EncodeTime: func(t time.Time) any {
		return t.UTC().Format(timeLayout)
	},
	Precision: time.Nanosecond,
	// A read transaction in WAL mode already sees one consistent snapshot.
	SnapshotTx: nil,
}

// Open creates (if needed) and opens the database file at path in WAL mode.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(FULL)")
	q.Add("_pragma", "foreign_keys(ON)")
	return "file:" + path + "?" + q.Encode()
}
