// Package sqlstore implements audit.Store over database/sql. The SQLite and
// PostgreSQL packages supply a Dialect and an opened *sql.DB; everything else
// (queries, scanning, snapshot handling) lives here.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"auditlog/internal/audit"
	"auditlog/pkg/platform/sentinel"
	"auditlog/pkg/requestcontext"
)

// Dialect captures the differences between SQL engines.
type Dialect struct {
	Name string
	// Schema statements, executed in order and idempotent.
	Schema []string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Contains renders a case-sensitive substring predicate.
	Contains func(column, placeholder string) string
	// EncodeTime converts a timestamp into a bind value.
	EncodeTime func(t time.Time) any
	// Precision is the resolution the engine keeps for timestamps.
	Precision time.Duration
	// SnapshotTx opens the read transaction used by Query and Stats so that
	// every statement inside observes the same snapshot.
	SnapshotTx *sql.TxOptions
}

// Store is the database/sql backed audit store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closed  atomic.Bool
}

// New wraps db, creating the schema if needed.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply %s schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

const columns = `id, timestamp, event_type, outcome, user_email, user_role,
	ip_address, user_agent, endpoint, method, metadata, suspicious`

// Append inserts one row in a single statement; the engine commits it
// atomically or not at all.
func (s *Store) Append(ctx context.Context, e audit.Event) (audit.Event, error) {
	if s.closed.Load() {
		return audit.Event{}, sentinel.ErrClosed
	}
	e.Timestamp = requestcontext.Now(ctx).UTC().Truncate(s.dialect.Precision)

	ph := s.dialect.Placeholder
	query := fmt.Sprintf(`
		INSERT INTO audit_logs (
			timestamp, event_type, outcome, user_email, user_role,
			ip_address, user_agent, endpoint, method, metadata, suspicious
		)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		RETURNING id
	`, ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8), ph(9), ph(10), ph(11))

	err := s.db.QueryRowContext(ctx, query,
		s.dialect.EncodeTime(e.Timestamp),
		string(e.EventType),
		string(e.Outcome),
		nullString(e.UserEmail),
		nullString(e.UserRole),
		e.IPAddress,
		nullString(e.UserAgent),
		nullString(e.Endpoint),
		nullString(e.Method),
		nullMetadata(e.Metadata),
		e.Suspicious,
	).Scan(&e.ID)
	if err != nil {
		return audit.Event{}, fmt.Errorf("insert audit event: %w", err)
	}
	return e, nil
}

func (s *Store) CountByIP(ctx context.Context, t audit.EventType, ip string, since time.Time) (int, error) {
	return s.countBy(ctx, "ip_address", t, ip, since)
}

func (s *Store) CountByEmail(ctx context.Context, t audit.EventType, email string, since time.Time) (int, error) {
	return s.countBy(ctx, "user_email", t, email, since)
}

func (s *Store) countBy(ctx context.Context, column string, t audit.EventType, value string, since time.Time) (int, error) {
	if s.closed.Load() {
		return 0, sentinel.ErrClosed
	}
	ph := s.dialect.Placeholder
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM audit_logs
		WHERE %s = %s AND event_type = %s AND timestamp >= %s
	`, column, ph(1), ph(2), ph(3))

	var n int
	if err := s.db.QueryRowContext(ctx, query, value, string(t), s.dialect.EncodeTime(since.UTC())).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events by %s: %w", column, err)
	}
	return n, nil
}

// Query lists one page and counts all matches inside one snapshot.
func (s *Store) Query(ctx context.Context, f audit.Filter, p audit.Page) (audit.QueryResult, error) {
	if s.closed.Load() {
		return audit.QueryResult{}, sentinel.ErrClosed
	}
	where, args := s.where(f)

	tx, err := s.db.BeginTx(ctx, s.dialect.SnapshotTx)
	if err != nil {
		return audit.QueryResult{}, fmt.Errorf("begin audit query: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	n := len(args)
	listQuery := fmt.Sprintf(`
		SELECT %s FROM audit_logs %s
		ORDER BY timestamp DESC, id DESC
		LIMIT %s OFFSET %s
	`, columns, where, s.dialect.Placeholder(n+1), s.dialect.Placeholder(n+2))

	rows, err := tx.QueryContext(ctx, listQuery, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return audit.QueryResult{}, fmt.Errorf("query audit events: %w", err)
	}
	logs, err := scanEvents(rows)
	if err != nil {
		return audit.QueryResult{}, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_logs ` + where
	if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return audit.QueryResult{}, fmt.Errorf("count audit events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return audit.QueryResult{}, fmt.Errorf("commit audit query: %w", err)
	}
	return audit.QueryResult{Logs: logs, Total: total}, nil
}

// where renders the filter as a WHERE clause with its bind values.
func (s *Store) where(f audit.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return s.dialect.Placeholder(len(args))
	}

	if f.EventType != "" {
		clauses = append(clauses, "event_type = "+next(string(f.EventType)))
	}
	if f.Outcome != "" {
		clauses = append(clauses, "outcome = "+next(string(f.Outcome)))
	}
	if f.Suspicious != nil {
		clauses = append(clauses, "suspicious = "+next(*f.Suspicious))
	}
	if f.Search != "" {
		contains := s.dialect.Contains
		clauses = append(clauses, "("+strings.Join([]string{
			contains("user_email", next(f.Search)),
			contains("ip_address", next(f.Search)),
			contains("endpoint", next(f.Search)),
		}, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Stats computes every rollup inside one snapshot.
func (s *Store) Stats(ctx context.Context, p audit.StatsParams) (audit.Summary, error) {
	if s.closed.Load() {
		return audit.Summary{}, sentinel.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, s.dialect.SnapshotTx)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("begin audit stats: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ph := s.dialect.Placeholder
	var summary audit.Summary
	totalsQuery := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = %s THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN suspicious = %s THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= %s THEN 1 ELSE 0 END), 0)
		FROM audit_logs
	`, ph(1), ph(2), ph(3))
	err = tx.QueryRowContext(ctx, totalsQuery,
		string(audit.OutcomeFailure),
		true,
		s.dialect.EncodeTime(p.RecentSince.UTC()),
	).Scan(&summary.Total, &summary.Failures, &summary.Suspicious, &summary.Last24h)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("aggregate audit totals: %w", err)
	}

	topQuery := fmt.Sprintf(`
		SELECT ip_address, COUNT(*) AS cnt FROM audit_logs
		GROUP BY ip_address
		ORDER BY cnt DESC, ip_address ASC
		LIMIT %s
	`, ph(1))
	rows, err := tx.QueryContext(ctx, topQuery, p.TopIPs)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("query top ips: %w", err)
	}
	summary.TopIPs, err = scanRollup(rows, func(key string, n int) audit.IPCount {
		return audit.IPCount{IPAddress: key, Count: n}
	})
	if err != nil {
		return audit.Summary{}, fmt.Errorf("scan top ips: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT event_type, COUNT(*) AS cnt FROM audit_logs
		GROUP BY event_type
		ORDER BY cnt DESC, event_type ASC
	`)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("query event breakdown: %w", err)
	}
	summary.EventBreakdown, err = scanRollup(rows, func(key string, n int) audit.EventTypeCount {
		return audit.EventTypeCount{EventType: audit.EventType(key), Count: n}
	})
	if err != nil {
		return audit.Summary{}, fmt.Errorf("scan event breakdown: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return audit.Summary{}, fmt.Errorf("commit audit stats: %w", err)
	}
	return summary, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return sentinel.ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close releases the handle. It is safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func scanRollup[T any](rows *sql.Rows, build func(key string, n int) T) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out = append(out, build(key, n))
	}
	return out, rows.Err()
}

// scanEvents scans multiple rows into audit.Event slice.
func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		var (
			e         audit.Event
			ts        any
			eventType string
			outcome   string
			email     sql.NullString
			role      sql.NullString
			userAgent sql.NullString
			endpoint  sql.NullString
			method    sql.NullString
			metadata  sql.NullString
		)
		err := rows.Scan(
			&e.ID,
			&ts,
			&eventType,
			&outcome,
			&email,
			&role,
			&e.IPAddress,
			&userAgent,
			&endpoint,
			&method,
			&metadata,
			&e.Suspicious,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if e.Timestamp, err = decodeTime(ts); err != nil {
			return nil, fmt.Errorf("decode audit event %d timestamp: %w", e.ID, err)
		}
		e.EventType = audit.EventType(eventType)
		e.Outcome = audit.Outcome(outcome)
		e.UserEmail = email.String
		e.UserRole = role.String
		e.UserAgent = userAgent.String
		e.Endpoint = endpoint.String
		e.Method = method.String
		if metadata.Valid {
			e.Metadata = json.RawMessage(metadata.String)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// decodeTime accepts the representations drivers hand back for the
// timestamp column: native time values or RFC 3339 text.
func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	case int64:
		return time.Unix(0, t).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unexpected timestamp type %T", sentinel.ErrCorrupt, v)
	}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Join(sentinel.ErrCorrupt, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMetadata(m json.RawMessage) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(m), Valid: true}
}

// NumberedPlaceholder renders $1, $2, ... placeholders.
func NumberedPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// QuestionPlaceholder renders positional ? placeholders.
func QuestionPlaceholder(int) string {
	return "?"
}
