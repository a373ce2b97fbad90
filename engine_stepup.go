package authcore

import (
	"context"
	"time"

	"github.com/arielzev/authcore/policy"
	"github.com/arielzev/authcore/sectoken"
)

// stepUpFresh reports whether a session's step-up attestation is still inside
// the grace window. The newer of the full-auth time and the step-up time
// anchors the window; the session is fresh strictly within it and stale at
// exactly the boundary.
func stepUpFresh(lastAuthAt, stepUpAuthAt, now time.Time, window time.Duration) bool {
	anchor := lastAuthAt
	if stepUpAuthAt.After(anchor) {
		anchor = stepUpAuthAt
	}
	if anchor.IsZero() {
		return false
	}
	return now.Sub(anchor) < window
}

// IsStepUpFresh reports whether the session can perform step-up gated actions
// without re-authenticating.
func (e *Engine) IsStepUpFresh(ctx context.Context, sessionID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	record, err := e.provider.GetSession(ctx, sessionID)
	if err != nil {
		return false, ErrSessionNotFound
	}
	now := e.clock()
	if !sessionValid(record, now) {
		return false, ErrSessionInvalid
	}
	return stepUpFresh(record.LastAuthAt, record.StepUpAuthAt, now, e.config.StepUp.GraceWindow), nil
}

// RequireStepUp gates a sensitive action on the session's step-up freshness.
// It returns nil when the action may proceed, [ErrStepUpRequired] when the
// attestation is stale, and session errors otherwise.
func (e *Engine) RequireStepUp(ctx context.Context, sessionID string, action policy.SensitiveAction) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !policy.RequiresStepUp(action) {
		return nil
	}

	fresh, err := e.IsStepUpFresh(ctx, sessionID)
	if err != nil {
		return err
	}
	if !fresh {
		return ErrStepUpRequired
	}
	return nil
}

// StepUpWithPassword re-verifies the account password and refreshes the
// session's step-up attestation. Attempts spend points from the step-up
// rate-limit bucket keyed by session.
func (e *Engine) StepUpWithPassword(ctx context.Context, sessionID, passwordPlain string) error {
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

	if err := e.consumeLimit(ctx, policy.CategoryStepUp, "session:"+sessionID); err != nil {
		return err
	}

	user, err := e.getUser(ctx, record.UserID)
	if err != nil {
		e.metricInc(MetricStepUpFailure)
		return ErrInvalidCredentials
	}

	ok, err := e.passwordHash.Verify(passwordPlain, user.PasswordHash)
	if err != nil || !ok {
		e.failureDelay()
		e.metricInc(MetricStepUpFailure)
		e.emitAudit(ctx, "stepup.password", false, user.UserID, sessionID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.provider.UpdateSessionAuthTimes(ctx, sessionID, record.LastAuthAt, now); err != nil {
		return err
	}

	e.resetLimit(ctx, policy.CategoryStepUp, "session:"+sessionID)
	e.metricInc(MetricStepUpSuccess)
	e.emitAudit(ctx, "stepup.password", true, user.UserID, sessionID, nil, nil)
	return nil
}

// IssueStepUpToken signs a short-lived capability token attesting that the
// session just completed step-up verification. The token is single use.
func (e *Engine) IssueStepUpToken(ctx context.Context, userID, sessionID string, verifiedAt time.Time) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	raw, _, err := e.updateTokens.Issue(userID, sessionID, sectoken.PurposeStepUp, verifiedAt)
	return raw, err
}

// ConsumeStepUpToken validates a step-up capability token and applies its
// attestation to the bound session. Each token is honored exactly once; a
// replay fails with [ErrTokenInvalid].
func (e *Engine) ConsumeStepUpToken(ctx context.Context, rawToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	token, err := e.updateTokens.Parse(rawToken, sectoken.PurposeStepUp)
	if err != nil {
		// Passkey step-up attestations apply the same way.
		token, err = e.updateTokens.Parse(rawToken, sectoken.PurposePasskeyStepUp)
	}
	if err != nil {
		e.metricInc(MetricStepUpFailure)
		return ErrTokenInvalid
	}

	first, err := e.challenges.ConsumeOnce(ctx, token.ID, e.config.StepUp.TokenTTL)
	if err != nil {
		return ErrServiceUnavailable
	}
	if !first {
		e.metricInc(MetricStepUpTokenReplay)
		e.emitAudit(ctx, "stepup.token", false, token.UserID, token.SessionID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{"cause": "replay"}
		})
		return ErrTokenInvalid
	}

	record, err := e.provider.GetSession(ctx, token.SessionID)
	if err != nil {
		return ErrTokenInvalid
	}
	if record.UserID != token.UserID || !sessionValid(record, e.clock()) {
		return ErrTokenInvalid
	}

	if err := e.provider.UpdateSessionAuthTimes(ctx, token.SessionID, record.LastAuthAt, token.VerifiedAt); err != nil {
		return err
	}

	e.metricInc(MetricStepUpSuccess)
	e.emitAudit(ctx, "stepup.token", true, token.UserID, token.SessionID, nil, nil)
	return nil
}

// requireFreshStepUp loads the session, checks validity, and enforces the
// step-up table for the action. Flows performing sensitive mutations call this
// before touching account state.
func (e *Engine) requireFreshStepUp(ctx context.Context, sessionID string, action policy.SensitiveAction) (SessionRecord, error) {
	record, err := e.provider.GetSession(ctx, sessionID)
	if err != nil {
		return SessionRecord{}, ErrSessionNotFound
	}
	now := e.clock()
	if !sessionValid(record, now) {
		return SessionRecord{}, ErrSessionInvalid
	}
	if policy.RequiresStepUp(action) &&
		!stepUpFresh(record.LastAuthAt, record.StepUpAuthAt, now, e.config.StepUp.GraceWindow) {
		return SessionRecord{}, ErrStepUpRequired
	}
	return record, nil
}
