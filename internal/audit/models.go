// Package audit records security events in an append-only log, flags
// suspicious login failures, and serves the admin read paths over the log.
//
// The Recorder is the write boundary used by HTTP middleware and handlers.
// The Service answers filtered queries and rollup statistics. Storage backends
// live under store/ and implement Store.
package audit

import (
	"encoding/json"
	"time"
)

// EventType is the kind of security event being recorded.
type EventType string

const (
	EventLoginSuccess    EventType = "LOGIN_SUCCESS"
	EventLoginFailure    EventType = "LOGIN_FAILURE"
	EventLogout          EventType = "LOGOUT"
	EventTokenInvalid    EventType = "TOKEN_INVALID"
	EventTokenExpired    EventType = "TOKEN_EXPIRED"
	EventAccessDenied    EventType = "ACCESS_DENIED"    // authenticated, wrong role
	EventUnauthorized    EventType = "UNAUTHORIZED"     // no credentials presented
	EventProtectedAccess EventType = "PROTECTED_ACCESS" // authorized access to a protected route
	EventAdminAction     EventType = "ADMIN_ACTION"
	EventRateLimited     EventType = "RATE_LIMITED"
	EventSensitiveAPI    EventType = "SENSITIVE_API"
)

var eventTypes = map[EventType]struct{}{
	EventLoginSuccess:    {},
	EventLoginFailure:    {},
	EventLogout:          {},
	EventTokenInvalid:    {},
	EventTokenExpired:    {},
	EventAccessDenied:    {},
	EventUnauthorized:    {},
	EventProtectedAccess: {},
	EventAdminAction:     {},
	EventRateLimited:     {},
	EventSensitiveAPI:    {},
}

// Valid reports whether t is one of the recognized event kinds.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Outcome is the disposition of an event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// Valid reports whether o is success, failure or blocked.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeBlocked:
		return true
	}
	return false
}

// Policy constants. Callers cannot override them.
const (
	// SuspicionWindow bounds the trailing frequency counts.
	SuspicionWindow = 15 * time.Minute
	// IPFailureThreshold is the number of LOGIN_FAILURE events from one IP
	// inside the window, the candidate included, at which it is suspicious.
	IPFailureThreshold = 5
	// EmailFailureThreshold is the same rule keyed by user email.
	EmailFailureThreshold = 3

	DefaultQueryLimit = 50
	MaxQueryLimit     = 200

	RecentWindow = 24 * time.Hour
	TopIPCount   = 5

	MaxUserAgentLength = 200
	UnknownIP          = "unknown"
)

// Event is a persisted audit record. Records are immutable once appended:
// ID, Timestamp and Suspicious are assigned exactly once at insert time.
type Event struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	EventType  EventType       `json:"event_type"`
	Outcome    Outcome         `json:"outcome"`
	UserEmail  string          `json:"user_email,omitempty"`
	UserRole   string          `json:"user_role,omitempty"`
	IPAddress  string          `json:"ip_address"`
	UserAgent  string          `json:"user_agent,omitempty"`
	Endpoint   string          `json:"endpoint,omitempty"`
	Method     string          `json:"method,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Suspicious bool            `json:"suspicious"`
}

// Identity is the best-effort request tuple supplied by the transport layer.
// Empty strings mean the value could not be determined.
type Identity struct {
	IP        string
	UserAgent string
	Endpoint  string
	Method    string
}

// Entry is what callers hand to the recorder. Identity is optional; when nil the
// recorder falls back to client metadata carried on the context.
type Entry struct {
	EventType EventType
	Outcome   Outcome
	UserEmail string
	UserRole  string
	Identity  *Identity
	// Metadata is a caller-defined JSON document stored and returned verbatim.
	Metadata json.RawMessage
}

// Filter narrows a query. All set fields must match (AND).
type Filter struct {
	EventType  EventType
	Outcome    Outcome
	Suspicious *bool
	// Search is a case-sensitive substring matched against user email, IP
	// address or endpoint; any one match is enough.
	Search string
}

// Page selects a window of a query result.
type Page struct {
	Limit  int
	Offset int
}

// QueryResult is one page of events plus the full filtered count.
type QueryResult struct {
	Logs  []Event `json:"logs"`
	Total int     `json:"total"`
}

// IPCount is one entry of the top-offenders rollup.
type IPCount struct {
	IPAddress string `json:"ip_address"`
	Count     int    `json:"count"`
}

// EventTypeCount is one entry of the per-kind breakdown.
type EventTypeCount struct {
	EventType EventType `json:"event_type"`
	Count     int       `json:"count"`
}

// Summary is a point-in-time rollup over the whole store.
type Summary struct {
	Total          int              `json:"total"`
	Failures       int              `json:"failures"`
	Suspicious     int              `json:"suspicious"`
	Last24h        int              `json:"last24h"`
	TopIPs         []IPCount        `json:"top_ips"`
	EventBreakdown []EventTypeCount `json:"event_breakdown"`
}

// StatsParams carries the caller-owned rollup policy into the store so that
// stores stay pure I/O.
type StatsParams struct {
	RecentSince time.Time
	TopIPs      int
}

// MetadataOf marshals v into a metadata document. It is a convenience for
// callers that build metadata from Go values; a marshal failure yields nil
// metadata rather than an error because metadata is never load-bearing.
func MetadataOf(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
