package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/arielzev/authcore/internal/ratelimit"
	"github.com/arielzev/authcore/internal/stores"
	"github.com/arielzev/authcore/password"
	"github.com/arielzev/authcore/policy"
	"github.com/arielzev/authcore/sectoken"
)

// Engine defines a public type used by authcore APIs.
//
// Engine instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	provider     Provider
	limiter      *ratelimit.Limiter
	challenges   *stores.ChallengeStore
	updateTokens *sectoken.Manager
	passwordHash *password.Hasher
	totp         *totpManager
	webAuthn     *webauthn.WebAuthn
	mailer       Mailer
	geo          GeoResolver
	audit        *auditDispatcher
	metrics      *Metrics
	now          func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}

// RateLimitResult mirrors the limiter verdict for 429/503 construction.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// CheckRateLimit spends one point from the bucket mapped to the endpoint
// category. Denials return [ErrRateLimited]; a dead counter store denies with
// [ErrServiceUnavailable] (fail closed).
func (e *Engine) CheckRateLimit(ctx context.Context, category policy.EndpointCategory, identifier string) (RateLimitResult, error) {
	if e == nil || e.limiter == nil {
		return RateLimitResult{}, ErrEngineNotReady
	}
	if !e.config.RateLimit.Enabled {
		return RateLimitResult{Allowed: true}, nil
	}

	result, err := e.limiter.Consume(ctx, string(policy.BucketFor(category)), identifier)
	out := RateLimitResult{Allowed: result.Allowed, Remaining: result.Remaining, ResetAt: result.ResetAt}
	if err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			e.metricInc(MetricRateLimitHit)
			return out, ErrRateLimited
		}
		e.metricInc(MetricStoreUnavailable)
		return out, ErrServiceUnavailable
	}
	return out, nil
}

func (e *Engine) consumeLimit(ctx context.Context, category policy.EndpointCategory, identifier string) error {
	_, err := e.CheckRateLimit(ctx, category, identifier)
	return err
}

func (e *Engine) resetLimit(ctx context.Context, category policy.EndpointCategory, identifier string) {
	if e == nil || e.limiter == nil || !e.config.RateLimit.Enabled {
		return
	}
	_ = e.limiter.Reset(ctx, string(policy.BucketFor(category)), identifier)
}

func (e *Engine) clock() time.Time {
	if e != nil && e.now != nil {
		return e.now()
	}
	return time.Now()
}

// getUser wraps provider lookups so unknown users surface a single sentinel.
func (e *Engine) getUser(ctx context.Context, userID string) (UserRecord, error) {
	if userID == "" {
		return UserRecord{}, ErrUserNotFound
	}
	user, err := e.provider.GetUserByID(ctx, userID)
	if err != nil {
		return UserRecord{}, ErrUserNotFound
	}
	if !user.Active {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}
