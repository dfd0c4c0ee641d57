//go:build integration

package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"auditlog/internal/ratelimit/ports"
	"auditlog/pkg/testutil/containers"
)

// Runs the shared suite against a real Redis so the Lua script is checked
// against the server's interpreter, not only miniredis.
func TestRedisBucketStoreIntegration(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)

	suite.Run(t, &BucketStoreSuite{
		newStore: func(clock *fakeClock) ports.BucketStore {
			if err := rc.FlushAll(context.Background()); err != nil {
				t.Fatalf("flush redis: %v", err)
			}
			return NewRedisBucketStore(rc.Client, WithRedisClock(clock.Now))
		},
	})
}

func TestRedisBucketStoreExpiresKeys(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	store := NewRedisBucketStore(rc.Client)

	_, err := store.Allow(ctx, "test:key:ttl", 5, 2*time.Second)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	ttl, err := rc.Client.PTTL(ctx, "test:key:ttl").Result()
	if err != nil {
		t.Fatalf("pttl: %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("expected ttl within window, got %s", ttl)
	}
}
