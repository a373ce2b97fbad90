package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, budgets map[string]Budget) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(rdb, "arl", budgets)

	return limiter, mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestConsumeDeniesBeyondBudget(t *testing.T) {
	limiter, _, done := newTestLimiter(t, map[string]Budget{
		"auth": {Points: 5, Window: 60 * time.Second},
	})
	defer done()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		result, err := limiter.Consume(ctx, "auth", "10.0.0.1:user@example.com")
		if err != nil {
			t.Fatalf("consume %d failed: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("consume %d unexpectedly denied", i+1)
		}
		if result.Remaining != 5-i-1 {
			t.Fatalf("consume %d remaining = %d, want %d", i+1, result.Remaining, 5-i-1)
		}
	}

	result, err := limiter.Consume(ctx, "auth", "10.0.0.1:user@example.com")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 6th consume, got %v", err)
	}
	if result.Allowed {
		t.Fatal("6th consume must be denied")
	}
	if result.ResetAt.IsZero() {
		t.Fatal("denial must carry a reset time")
	}
}

func TestConsumeRecoversAfterWindow(t *testing.T) {
	limiter, mr, done := newTestLimiter(t, map[string]Budget{
		"auth": {Points: 2, Window: 10 * time.Second},
	})
	defer done()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := limiter.Consume(ctx, "auth", "u1"); err != nil {
			t.Fatalf("consume %d failed: %v", i+1, err)
		}
	}
	if _, err := limiter.Consume(ctx, "auth", "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected denial, got %v", err)
	}

	// The key carries a PEXPIRE equal to the window; advancing miniredis past
	// it drops the whole counter, which is exactly the "window elapsed" case.
	mr.FastForward(11 * time.Second)

	result, err := limiter.Consume(ctx, "auth", "u1")
	if err != nil {
		t.Fatalf("consume after window failed: %v", err)
	}
	if !result.Allowed {
		t.Fatal("consume after window must be allowed")
	}
}

func TestBucketsAreIsolated(t *testing.T) {
	limiter, _, done := newTestLimiter(t, map[string]Budget{
		"auth":          {Points: 1, Window: time.Minute},
		"passwordReset": {Points: 1, Window: time.Minute},
	})
	defer done()

	ctx := context.Background()
	if _, err := limiter.Consume(ctx, "auth", "u1"); err != nil {
		t.Fatalf("auth consume failed: %v", err)
	}
	if _, err := limiter.Consume(ctx, "passwordReset", "u1"); err != nil {
		t.Fatalf("passwordReset consume must not share the auth counter: %v", err)
	}
	if _, err := limiter.Consume(ctx, "auth", "u2"); err != nil {
		t.Fatalf("distinct identifier must not share the counter: %v", err)
	}
}

func TestUnknownBucketRejected(t *testing.T) {
	limiter, _, done := newTestLimiter(t, nil)
	defer done()

	if _, err := limiter.Consume(context.Background(), "no-such-bucket", "u1"); !errors.Is(err, ErrUnknownBucket) {
		t.Fatalf("expected ErrUnknownBucket, got %v", err)
	}
}

func TestConsumeFailsClosedWhenStoreDown(t *testing.T) {
	limiter, mr, done := newTestLimiter(t, nil)
	done() // tear down redis before consuming
	_ = mr

	result, err := limiter.Consume(context.Background(), "auth", "u1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if result.Allowed {
		t.Fatal("store outage must deny, never allow")
	}
}

func TestResetClearsCounter(t *testing.T) {
	limiter, _, done := newTestLimiter(t, map[string]Budget{
		"twoFactorVerify": {Points: 1, Window: time.Minute},
	})
	defer done()

	ctx := context.Background()
	if _, err := limiter.Consume(ctx, "twoFactorVerify", "u1"); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if _, err := limiter.Consume(ctx, "twoFactorVerify", "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected denial, got %v", err)
	}
	if err := limiter.Reset(ctx, "twoFactorVerify", "u1"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if _, err := limiter.Consume(ctx, "twoFactorVerify", "u1"); err != nil {
		t.Fatalf("consume after reset failed: %v", err)
	}
}

func TestDefaultBudgetsCoverPolicyBuckets(t *testing.T) {
	budgets := DefaultBudgets()
	for _, bucket := range []string{
		"auth", "passwordReset", "twoFactorVerify", "twoFactorResend",
		"stepUpAuth", "sensitiveAction", "tokenValidation", "default",
	} {
		if _, ok := budgets[bucket]; !ok {
			t.Fatalf("missing default budget for bucket %s", bucket)
		}
	}
}
