// Package ports defines the interfaces the rate limit middleware consumes.
package ports

import (
	"context"
	"time"

	"auditlog/internal/audit"
	"auditlog/internal/ratelimit/models"
)

// BucketStore manages sliding window rate limit counters.
type BucketStore interface {
	// Allow checks if a single request is allowed and consumes one slot if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// AuditRecorder is the audit write path. Record never fails for storage reasons.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}
