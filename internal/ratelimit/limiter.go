package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is an exported constant or variable used by the authentication core.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is an exported constant or variable used by the authentication core.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrUnknownBucket is an exported constant or variable used by the authentication core.
	ErrUnknownBucket = errors.New("unknown rate limit bucket")
)

// Budget is one sliding-window allowance: Points hits per Window.
type Budget struct {
	Points int
	Window time.Duration
}

// DefaultBudgets returns the per-bucket budgets. Keys match the bucket names
// in the policy package.
func DefaultBudgets() map[string]Budget {
	return map[string]Budget{
		"auth":            {Points: 5, Window: 60 * time.Second},
		"passwordReset":   {Points: 3, Window: 15 * time.Minute},
		"twoFactorVerify": {Points: 5, Window: 5 * time.Minute},
		"twoFactorResend": {Points: 3, Window: 10 * time.Minute},
		"stepUpAuth":      {Points: 5, Window: 5 * time.Minute},
		"sensitiveAction": {Points: 10, Window: 5 * time.Minute},
		"tokenValidation": {Points: 10, Window: 15 * time.Minute},
		"default":         {Points: 60, Window: 60 * time.Second},
	}
}

// Result carries the verdict plus enough metadata to build a 429 with
// Retry-After.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Prune expired hits, count the live ones, and record the new hit only if the
// budget allows. Single round trip so the check-and-consume is atomic.
const consumeScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local points = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now_ms - window_ms)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < points then
  allowed = 1
  redis.call('ZADD', key, now_ms, member)
  redis.call('PEXPIRE', key, window_ms)
  count = count + 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset_ms = now_ms + window_ms
if oldest[2] then
  reset_ms = tonumber(oldest[2]) + window_ms
end

return { allowed, points - count, reset_ms }
`

var consumeLua = redis.NewScript(consumeScript)

// Limiter enforces named sliding-window budgets keyed by caller-supplied
// identifiers (ip, ip:email, userId) in a shared Redis counter store.
type Limiter struct {
	redis   redis.UniversalClient
	prefix  string
	budgets map[string]Budget
}

// New creates a [Limiter] backed by the given Redis client. A nil or empty
// budgets map falls back to [DefaultBudgets].
func New(redisClient redis.UniversalClient, prefix string, budgets map[string]Budget) *Limiter {
	if prefix == "" {
		prefix = "arl"
	}
	if len(budgets) == 0 {
		budgets = DefaultBudgets()
	}
	return &Limiter{
		redis:   redisClient,
		prefix:  prefix,
		budgets: budgets,
	}
}

func (l *Limiter) key(bucket, identifier string) string {
	return l.prefix + ":" + bucket + ":" + strings.ToLower(identifier)
}

// Consume spends one point from the bucket's budget for the identifier.
// Denials return [ErrRateLimited]; store failures deny with
// [ErrStoreUnavailable] (fail closed). Result metadata is populated in both
// cases.
func (l *Limiter) Consume(ctx context.Context, bucket, identifier string) (Result, error) {
	budget, ok := l.budgets[bucket]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}

	now := time.Now()
	windowMs := budget.Window.Milliseconds()

	raw, err := consumeLua.Run(ctx, l.redis,
		[]string{l.key(bucket, identifier)},
		now.UnixMilli(),
		windowMs,
		budget.Points,
		uuid.NewString(),
	).Result()
	if err != nil {
		return Result{Allowed: false, ResetAt: now.Add(budget.Window)},
			fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return Result{Allowed: false, ResetAt: now.Add(budget.Window)},
			fmt.Errorf("%w: malformed script reply", ErrStoreUnavailable)
	}

	allowed, _ := reply[0].(int64)
	remaining, _ := reply[1].(int64)
	resetMs, _ := reply[2].(int64)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetAt:   time.UnixMilli(resetMs),
	}
	if !result.Allowed {
		return result, ErrRateLimited
	}
	return result, nil
}

// Reset clears the identifier's counter for a bucket. Called after a
// successful verification so honest users do not inherit attacker spend.
func (l *Limiter) Reset(ctx context.Context, bucket, identifier string) error {
	if err := l.redis.Del(ctx, l.key(bucket, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
