package handler

import (
	"net/url"
	"strconv"

	"auditlog/internal/audit"
)

// LogsRequest is the parsed query string of GET /api/admin/logs.
type LogsRequest struct {
	Filter audit.Filter
	Page   audit.Page
}

// ParseLogsRequest reads limit, offset, event_type, outcome, suspicious and
// search. Non-numeric limit or offset fall back to defaults; any present
// suspicious value other than "true" means false. Enum values are checked by
// the service.
func ParseLogsRequest(q url.Values) LogsRequest {
	req := LogsRequest{
		Page: audit.Page{
			Limit:  atoiOr(q.Get("limit"), audit.DefaultQueryLimit),
			Offset: atoiOr(q.Get("offset"), 0),
		},
		Filter: audit.Filter{
			EventType: audit.EventType(q.Get("event_type")),
			Outcome:   audit.Outcome(q.Get("outcome")),
			Search:    q.Get("search"),
		},
	}
	if q.Has("suspicious") {
		v := q.Get("suspicious") == "true"
		req.Filter.Suspicious = &v
	}
	return req
}

// appliedFilters echoes the caller's query parameters for the ADMIN_ACTION
// record.
func appliedFilters(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
