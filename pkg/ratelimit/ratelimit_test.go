package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestCheck_AllowsUnderLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "client-a", 3, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if !result.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
}

func TestCheck_DeniesOverLimitAndDoesNotConsumeQuota(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Check(ctx, "client-b", 2, time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	// Denied attempts must not themselves consume quota: repeating the
	// check should keep returning denied, not oscillate, and a later
	// distinct key must still see a clean window.
	result, err := limiter.Check(ctx, "client-b", 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Fatal("expected third request to be denied")
	}
	if result.RetryAfter <= 0 {
		t.Fatal("expected a positive RetryAfter on denial")
	}

	other, err := limiter.Check(ctx, "client-c", 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !other.Allowed {
		t.Fatal("expected a distinct key to have its own clean window")
	}
}

func TestCheck_FailsOpenWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // nothing listening
	t.Cleanup(func() { _ = client.Close() })
	limiter := New(client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := limiter.Check(ctx, "client-d", 1, time.Minute)
	if err != nil {
		t.Fatalf("expected fail-open with no error, got %v", err)
	}
	if !result.Allowed {
		t.Fatal("expected fail-open to allow the request")
	}
}
