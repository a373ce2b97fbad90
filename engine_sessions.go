package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/arielzev/authcore/internal"
	"github.com/arielzev/authcore/policy"
)

// CreatedSession is returned by [Engine.CreateSession]. RawToken is the only
// place the session token exists in plaintext; the registry keeps its hash.
type CreatedSession struct {
	SessionID string
	RawToken  string
	ExpiresAt time.Time
}

// CreateSession registers a new authenticated session for the user, capturing
// device, browser, and coarse location metadata from the request context.
//
// CreateSession may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) CreateSession(ctx context.Context, userID string, device DeviceInfo) (CreatedSession, error) {
	if e == nil {
		return CreatedSession{}, ErrEngineNotReady
	}

	user, err := e.getUser(ctx, userID)
	if err != nil {
		return CreatedSession{}, err
	}

	secret, err := internal.NewTokenSecret()
	if err != nil {
		return CreatedSession{}, err
	}

	now := e.clock()
	parsed := internal.ParseUserAgent(device.UserAgent)

	record := SessionRecord{
		SessionID:         uuid.NewString(),
		UserID:            user.UserID,
		TokenHash:         internal.HashTokenSecret(secret[:]),
		Device:            parsed.Device,
		Browser:           parsed.Browser,
		OS:                parsed.OS,
		IP:                device.IP,
		Location:          e.resolveLocation(ctx, device.IP),
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(e.config.Session.SlidingLifetime),
		AbsoluteExpiresAt: now.Add(e.config.Session.AbsoluteLifetime),
		LastAuthAt:        now,
	}
	if record.ExpiresAt.After(record.AbsoluteExpiresAt) {
		record.ExpiresAt = record.AbsoluteExpiresAt
	}

	if err := e.provider.CreateSession(ctx, record); err != nil {
		e.emitAudit(ctx, "session.create", false, userID, record.SessionID, err, nil)
		return CreatedSession{}, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, "session.create", true, userID, record.SessionID, nil, func() map[string]string {
		return map[string]string{
			"device":  record.Device,
			"browser": record.Browser,
			"os":      record.OS,
		}
	})

	return CreatedSession{
		SessionID: record.SessionID,
		RawToken:  internal.EncodeToken(secret),
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// ResolveSession maps a raw session token to its live session record. Unknown,
// revoked, and expired tokens all surface [ErrSessionInvalid].
func (e *Engine) ResolveSession(ctx context.Context, rawToken string) (SessionRecord, error) {
	if e == nil {
		return SessionRecord{}, ErrEngineNotReady
	}

	secret, err := internal.DecodeToken(rawToken)
	if err != nil {
		return SessionRecord{}, ErrSessionInvalid
	}

	record, err := e.provider.GetSessionByTokenHash(ctx, internal.HashTokenSecret(secret))
	if err != nil {
		return SessionRecord{}, ErrSessionInvalid
	}
	if !sessionValid(record, e.clock()) {
		return SessionRecord{}, ErrSessionInvalid
	}
	return record, nil
}

// TouchSession advances the session's last-activity time and sliding expiry.
// The sliding expiry is capped at the absolute expiry, which never moves.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.provider.GetSession(ctx, sessionID)
	if err != nil {
		return ErrSessionNotFound
	}
	now := e.clock()
	if !sessionValid(record, now) {
		return ErrSessionInvalid
	}

	sliding := now.Add(e.config.Session.SlidingLifetime)
	if sliding.After(record.AbsoluteExpiresAt) {
		sliding = record.AbsoluteExpiresAt
	}
	return e.provider.TouchSession(ctx, sessionID, now, sliding)
}

// RevokeSession marks one session revoked. Revocation is permanent and
// idempotent: revoking an already revoked session is a no-op success.
func (e *Engine) RevokeSession(ctx context.Context, sessionID, reason string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	record, err := e.provider.GetSession(ctx, sessionID)
	if err != nil {
		return ErrSessionNotFound
	}
	if record.Revoked {
		return nil
	}

	if err := e.provider.RevokeSession(ctx, sessionID, reason, e.clock()); err != nil {
		return err
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, "session.revoke", true, record.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return nil
}

// RevokeOtherSessions revokes every session of the user except the current one.
func (e *Engine) RevokeOtherSessions(ctx context.Context, userID, currentSessionID string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.provider.RevokeSessionsForUser(ctx, userID, currentSessionID, "revoked_by_user", e.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, "session.revoke_others", err == nil, userID, currentSessionID, err, nil)
	return n, nil
}

// RevokeAllSessions revokes every session of the user, current one included.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.provider.RevokeSessionsForUser(ctx, userID, "", "revoked_by_user", e.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, "session.revoke_all", err == nil, userID, "", err, nil)
	return n, nil
}

// ListSessions returns the user's sessions as caller-facing projections. The
// current session, when its ID is supplied, is flagged so UIs can pin it.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string, filter ListSessionsFilter) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	records, err := e.provider.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	out := make([]SessionInfo, 0, len(records))
	for _, record := range records {
		if record.Revoked && !filter.IncludeRevoked {
			continue
		}
		if sessionExpired(record, now) && !filter.IncludeExpired {
			continue
		}
		out = append(out, SessionInfo{
			SessionID:      record.SessionID,
			Device:         record.Device,
			Browser:        record.Browser,
			OS:             record.OS,
			IP:             record.IP,
			Location:       record.Location,
			CreatedAt:      record.CreatedAt,
			LastActivityAt: record.LastActivityAt,
			Current:        currentSessionID != "" && record.SessionID == currentSessionID,
		})
	}
	return out, nil
}

// CleanupExpiredSessions deletes sessions whose absolute expiry passed before
// the cutoff. Intended for a periodic sweeper.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.provider.DeleteExpiredSessions(ctx, e.clock())
}

func sessionValid(record SessionRecord, now time.Time) bool {
	if record.Revoked {
		return false
	}
	return !sessionExpired(record, now)
}

// Expiry is exclusive: a session is still valid at exactly ExpiresAt.
func sessionExpired(record SessionRecord, now time.Time) bool {
	if now.After(record.ExpiresAt) {
		return true
	}
	return now.After(record.AbsoluteExpiresAt)
}

// applyInvalidation enforces the session invalidation table for an account
// security event.
func (e *Engine) applyInvalidation(ctx context.Context, event policy.SecurityEvent, userID, currentSessionID string) error {
	effect, ok := policy.SessionInvalidationTriggers[event]
	if !ok {
		return errors.New("authcore: unmapped security event " + string(event))
	}

	var (
		n   int64
		err error
	)
	switch effect {
	case policy.InvalidateNone:
		return nil
	case policy.InvalidateOthers:
		n, err = e.provider.RevokeSessionsForUser(ctx, userID, currentSessionID, string(event), e.clock())
	case policy.InvalidateAll:
		n, err = e.provider.RevokeSessionsForUser(ctx, userID, "", string(event), e.clock())
	}
	if err != nil {
		return err
	}
	if n > 0 {
		e.metricInc(MetricSessionRevoked)
	}
	return nil
}

func (e *Engine) resolveLocation(ctx context.Context, ip string) string {
	if e.geo == nil || ip == "" {
		return "unknown"
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.config.Geo.LookupTimeout)
	defer cancel()

	location, err := e.geo.Resolve(lookupCtx, ip)
	if err != nil || location == "" {
		return "unknown"
	}
	return location
}
