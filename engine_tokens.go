package authcore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arielzev/authcore/internal"
	"github.com/arielzev/authcore/policy"
)

// issueToken mints a raw single-use secret, persists its hash, and returns the
// encoded raw token. The plaintext never touches storage.
func (e *Engine) issueToken(ctx context.Context, userID string, tokenType TokenType, payload string, ttl time.Duration) (string, error) {
	secret, err := internal.NewTokenSecret()
	if err != nil {
		return "", err
	}

	now := e.clock()
	record := TokenRecord{
		ID:         uuid.NewString(),
		Type:       tokenType,
		UserID:     userID,
		SecretHash: internal.HashTokenSecret(secret[:]),
		Payload:    payload,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := e.provider.CreateToken(ctx, record); err != nil {
		return "", err
	}

	e.metricInc(MetricTokenIssued)
	return internal.EncodeToken(secret), nil
}

// consumeRawToken validates and atomically consumes a raw token of the given
// type. Malformed, unknown, wrong-type, expired, and already consumed tokens
// all return [ErrTokenInvalid]; the distinct causes go to audit only.
func (e *Engine) consumeRawToken(ctx context.Context, tokenType TokenType, rawToken string) (TokenRecord, error) {
	record, err := e.peekRawToken(ctx, tokenType, rawToken)
	if err != nil {
		return TokenRecord{}, err
	}

	consumed, err := e.provider.ConsumeToken(ctx, record.ID, e.clock())
	if err != nil {
		return TokenRecord{}, err
	}
	if !consumed {
		e.rejectToken(ctx, tokenType, record.UserID, "already_consumed")
		return TokenRecord{}, ErrTokenInvalid
	}

	e.metricInc(MetricTokenConsumed)
	return record, nil
}

// peekRawToken validates a raw token without consuming it. Used by UIs that
// check a link before showing the form behind it.
func (e *Engine) peekRawToken(ctx context.Context, tokenType TokenType, rawToken string) (TokenRecord, error) {
	secret, err := internal.DecodeToken(rawToken)
	if err != nil {
		e.rejectToken(ctx, tokenType, "", "malformed")
		return TokenRecord{}, ErrTokenInvalid
	}

	record, err := e.provider.GetTokenByHash(ctx, tokenType, internal.HashTokenSecret(secret))
	if err != nil {
		e.rejectToken(ctx, tokenType, "", "unknown")
		return TokenRecord{}, ErrTokenInvalid
	}
	if record.Type != tokenType {
		e.rejectToken(ctx, tokenType, record.UserID, "type_mismatch")
		return TokenRecord{}, ErrTokenInvalid
	}
	if record.ConsumedAt != nil {
		e.rejectToken(ctx, tokenType, record.UserID, "already_consumed")
		return TokenRecord{}, ErrTokenInvalid
	}
	if !e.clock().Before(record.ExpiresAt) {
		e.rejectToken(ctx, tokenType, record.UserID, "expired")
		return TokenRecord{}, ErrTokenInvalid
	}
	return record, nil
}

func (e *Engine) rejectToken(ctx context.Context, tokenType TokenType, userID, cause string) {
	e.metricInc(MetricTokenRejected)
	e.emitAudit(ctx, "token.reject", false, userID, "", ErrTokenInvalid, func() map[string]string {
		return map[string]string{"type": string(tokenType), "cause": cause}
	})
}

// ValidateToken checks a raw token of the given type without spending it.
// Attempts count against the token-validation rate bucket keyed by client IP.
func (e *Engine) ValidateToken(ctx context.Context, tokenType TokenType, rawToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.consumeLimit(ctx, policy.CategoryTokenValidation, clientIPFromContext(ctx)); err != nil {
		return err
	}
	_, err := e.peekRawToken(ctx, tokenType, rawToken)
	return err
}

// InviteUser issues an invite token for a provisioned account and mails its
// link. Invites are long-lived relative to other token types.
func (e *Engine) InviteUser(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.provider.GetUserByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	// A fresh invite supersedes any earlier one.
	_ = e.provider.DeleteTokensForUser(ctx, user.UserID, TokenUserInvite)

	rawToken, err := e.issueToken(ctx, user.UserID, TokenUserInvite, "", e.config.Token.InviteTTL)
	if err != nil {
		return err
	}
	if err := e.sendTokenLink(ctx, user, TokenUserInvite, rawToken); err != nil {
		return err
	}

	e.emitAudit(ctx, "invite.issue", true, user.UserID, "", nil, nil)
	return nil
}

// AcceptInvite consumes an invite token and installs the account's first
// password. The account is activated implicitly by gaining a credential.
func (e *Engine) AcceptInvite(ctx context.Context, rawToken, newPassword string) (UserRecord, error) {
	if e == nil {
		return UserRecord{}, ErrEngineNotReady
	}

	if err := e.consumeLimit(ctx, policy.CategoryTokenValidation, clientIPFromContext(ctx)); err != nil {
		return UserRecord{}, err
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return UserRecord{}, err
	}

	record, err := e.consumeRawToken(ctx, TokenUserInvite, rawToken)
	if err != nil {
		return UserRecord{}, err
	}

	user, err := e.provider.GetUserByID(ctx, record.UserID)
	if err != nil {
		return UserRecord{}, ErrTokenInvalid
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return UserRecord{}, err
	}
	if err := e.provider.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		return UserRecord{}, err
	}

	e.emitAudit(ctx, "invite.accept", true, user.UserID, "", nil, nil)
	user.PasswordHash = newHash
	return user, nil
}

// SendEmailVerification issues an email verification token for the account's
// current address and mails its link.
func (e *Engine) SendEmailVerification(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}

	_ = e.provider.DeleteTokensForUser(ctx, user.UserID, TokenEmailVerification)

	rawToken, err := e.issueToken(ctx, user.UserID, TokenEmailVerification, user.Email, e.config.Token.EmailVerificationTTL)
	if err != nil {
		return err
	}
	if err := e.sendTokenLink(ctx, user, TokenEmailVerification, rawToken); err != nil {
		return err
	}

	e.emitAudit(ctx, "email.verification_sent", true, user.UserID, "", nil, nil)
	return nil
}

// ConfirmEmailVerification consumes a verification token. The token is only
// honored while the account still holds the address it was issued for.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, rawToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.consumeLimit(ctx, policy.CategoryTokenValidation, clientIPFromContext(ctx)); err != nil {
		return err
	}

	record, err := e.consumeRawToken(ctx, TokenEmailVerification, rawToken)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, record.UserID)
	if err != nil {
		return ErrTokenInvalid
	}
	if !strings.EqualFold(user.Email, record.Payload) {
		e.rejectToken(ctx, TokenEmailVerification, user.UserID, "address_changed")
		return ErrTokenInvalid
	}

	e.emitAudit(ctx, "email.verified", true, user.UserID, "", nil, nil)
	return nil
}

// InitiateEmailChange issues an email-change token bound to the new address
// and mails its link there. The account keeps its old address until the link
// is confirmed. Requires a fresh step-up attestation.
func (e *Engine) InitiateEmailChange(ctx context.Context, sessionID, newEmail string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionInitiateEmailChange)
	if err != nil {
		return err
	}
	if err := e.consumeLimit(ctx, policy.CategorySensitiveMutation, "user:"+session.UserID); err != nil {
		return err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return err
	}

	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail == "" || !strings.Contains(newEmail, "@") {
		return ErrValidation
	}
	if strings.EqualFold(newEmail, user.Email) {
		return ErrValidation
	}
	if existing, lookupErr := e.provider.GetUserByEmail(ctx, newEmail); lookupErr == nil && existing.UserID != "" {
		return ErrEmailTaken
	}

	_ = e.provider.DeleteTokensForUser(ctx, user.UserID, TokenEmailChange)

	rawToken, err := e.issueToken(ctx, user.UserID, TokenEmailChange, newEmail, e.config.Token.EmailChangeTTL)
	if err != nil {
		return err
	}

	// The link goes to the address being claimed, not the current one.
	target := user
	target.Email = newEmail
	if err := e.sendTokenLink(ctx, target, TokenEmailChange, rawToken); err != nil {
		return err
	}

	e.emitAudit(ctx, "email.change_initiated", true, user.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"new_email": newEmail}
	})
	return nil
}

// ConfirmEmailChange consumes an email-change token and moves the account to
// the address carried in the token payload. Other sessions are revoked.
func (e *Engine) ConfirmEmailChange(ctx context.Context, sessionID, rawToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.consumeLimit(ctx, policy.CategoryTokenValidation, clientIPFromContext(ctx)); err != nil {
		return err
	}

	record, err := e.consumeRawToken(ctx, TokenEmailChange, rawToken)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, record.UserID)
	if err != nil {
		return ErrTokenInvalid
	}

	// Re-check for a race where the address was claimed between initiation and
	// confirmation.
	if existing, lookupErr := e.provider.GetUserByEmail(ctx, record.Payload); lookupErr == nil && existing.UserID != "" && existing.UserID != user.UserID {
		return ErrEmailTaken
	}

	if err := e.provider.UpdateEmail(ctx, user.UserID, record.Payload); err != nil {
		return err
	}
	if err := e.applyInvalidation(ctx, policy.EventEmailChange, user.UserID, sessionID); err != nil {
		return err
	}

	e.emitAudit(ctx, "email.change_confirmed", true, user.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"new_email": record.Payload}
	})
	return nil
}

// CleanupExpiredTokens deletes tokens whose expiry passed. Intended for a
// periodic sweeper alongside [Engine.CleanupExpiredSessions].
func (e *Engine) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.provider.DeleteExpiredTokens(ctx, e.clock())
}
