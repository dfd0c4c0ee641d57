// Package models holds the rate limiter's result and rule types.
package models

import (
	"strconv"
	"time"
)

// Rule names one sliding window applied per client IP.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	// Audit records a RATE_LIMITED event for each rejected request.
	Audit bool
}

// Key namespaces the bucket for one client under this rule.
func (r Rule) Key(ip string) string {
	return "ratelimit:" + r.Name + ":" + ip
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// FormatWindow renders a window the way it appears in audit metadata: "15min", "1min", "30s".
func FormatWindow(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + "min"
	case d >= time.Second && d%time.Second == 0:
		return strconv.Itoa(int(d/time.Second)) + "s"
	default:
		return d.String()
	}
}
