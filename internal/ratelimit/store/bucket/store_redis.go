package bucket

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"auditlog/internal/ratelimit/models"
)

// slidingWindowScript trims the sorted set to the window, admits the request
// if there is room, and reports {allowed, count, oldest score}. Scores are
// unix microseconds.
//
//go:embed sliding_window.lua
var slidingWindowScript string

// RedisBucketStore implements ports.BucketStore on a Redis sorted set per key,
// so replicas behind a load balancer share one window.
type RedisBucketStore struct {
	client redis.UniversalClient
	script *redis.Script
	now    func() time.Time
}

// RedisOption configures a RedisBucketStore.
type RedisOption func(*RedisBucketStore)

// WithRedisClock replaces time.Now, for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisBucketStore) {
		s.now = now
	}
}

func NewRedisBucketStore(client redis.UniversalClient, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	res, err := s.script.Run(ctx, s.client, []string{key},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis sliding window: unexpected reply length %d", len(res))
	}

	allowed, count := res[0] == 1, int(res[1])
	resetAt := time.UnixMicro(res[2]).UTC().Add(window)
	result := &models.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !allowed {
		result.Remaining = 0
		result.RetryAfter = retryAfter(now, resetAt)
	}
	return result, nil
}
