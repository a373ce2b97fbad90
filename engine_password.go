package authcore

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/arielzev/authcore/policy"
)

// VerifyPassword checks an email/password pair against the stored Argon2id
// hash. Failures are uniform: unknown account, inactive account, and wrong
// password all return [ErrInvalidCredentials] after a randomized delay so the
// response carries no user-existence oracle. Attempts spend points from the
// auth bucket keyed ip:email; a success refunds the bucket.
func (e *Engine) VerifyPassword(ctx context.Context, email, passwordPlain string) (UserRecord, error) {
	if e == nil {
		return UserRecord{}, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	identifier := clientIPFromContext(ctx) + ":" + email
	if err := e.consumeLimit(ctx, policy.CategoryLogin, identifier); err != nil {
		return UserRecord{}, err
	}

	user, err := e.provider.GetUserByEmail(ctx, email)
	if err != nil || !user.Active {
		e.failureDelay()
		e.metricInc(MetricPasswordVerifyFailure)
		e.emitAudit(ctx, "password.verify", false, "", "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"cause": "unknown_user"}
		})
		return UserRecord{}, ErrInvalidCredentials
	}

	ok, err := e.passwordHash.Verify(passwordPlain, user.PasswordHash)
	if err != nil || !ok {
		e.failureDelay()
		e.metricInc(MetricPasswordVerifyFailure)
		e.emitAudit(ctx, "password.verify", false, user.UserID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"cause": "password_mismatch"}
		})
		return UserRecord{}, ErrInvalidCredentials
	}

	// Transparent cost upgrade when the stored hash predates the current
	// hashing parameters.
	if stale, rehashErr := e.passwordHash.NeedsRehash(user.PasswordHash); rehashErr == nil && stale {
		if newHash, hashErr := e.passwordHash.Hash(passwordPlain); hashErr == nil {
			_ = e.provider.UpdatePasswordHash(ctx, user.UserID, newHash)
		}
	}

	e.resetLimit(ctx, policy.CategoryLogin, identifier)
	e.metricInc(MetricPasswordVerifySuccess)
	e.emitAudit(ctx, "password.verify", true, user.UserID, "", nil, nil)
	return user, nil
}

// ChangePassword replaces the account password from an authenticated session.
// The session must hold a fresh step-up attestation. The current password is
// re-verified even when step-up is fresh. Every other session of the user is
// revoked; the acting session survives.
func (e *Engine) ChangePassword(ctx context.Context, sessionID, currentPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionChangePassword)
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

	ok, err := e.passwordHash.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		e.failureDelay()
		e.emitAudit(ctx, "password.change", false, user.UserID, sessionID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.provider.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		return err
	}

	// Any reset link issued before the change is dead now.
	_ = e.provider.DeleteTokensForUser(ctx, user.UserID, TokenPasswordReset)

	if err := e.applyInvalidation(ctx, policy.EventPasswordChange, user.UserID, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, "password.change", true, user.UserID, sessionID, nil, nil)
	return nil
}

// RequestPasswordReset issues a single-use reset token and mails its link.
// The outcome is indistinguishable for known and unknown addresses.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	identifier := clientIPFromContext(ctx) + ":" + email
	if err := e.consumeLimit(ctx, policy.CategoryPasswordReset, identifier); err != nil {
		return err
	}

	user, err := e.provider.GetUserByEmail(ctx, email)
	if err != nil || !user.Active {
		// Same silence as the success path.
		e.emitAudit(ctx, "password.reset_request", false, "", "", nil, func() map[string]string {
			return map[string]string{"cause": "unknown_user"}
		})
		return nil
	}

	rawToken, err := e.issueToken(ctx, user.UserID, TokenPasswordReset, "", e.config.Token.PasswordResetTTL)
	if err != nil {
		return err
	}
	if err := e.sendTokenLink(ctx, user, TokenPasswordReset, rawToken); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetIssued)
	e.emitAudit(ctx, "password.reset_request", true, user.UserID, "", nil, nil)
	return nil
}

// ResetPassword consumes a reset token and installs the new password. Every
// session of the user is revoked, there is no "current" session to spare.
func (e *Engine) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.consumeLimit(ctx, policy.CategoryTokenValidation, clientIPFromContext(ctx)); err != nil {
		return err
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	record, err := e.consumeRawToken(ctx, TokenPasswordReset, rawToken)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, record.UserID)
	if err != nil {
		return ErrTokenInvalid
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.provider.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		return err
	}

	_ = e.provider.DeleteTokensForUser(ctx, user.UserID, TokenPasswordReset)

	if err := e.applyInvalidation(ctx, policy.EventPasswordReset, user.UserID, ""); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetCompleted)
	e.emitAudit(ctx, "password.reset", true, user.UserID, "", nil, nil)
	return nil
}

func (e *Engine) checkPasswordPolicy(candidate string) error {
	if len(candidate) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}
	return nil
}

// failureDelay sleeps a random interval inside the configured bounds so failed
// verifications do not reveal where the check short-circuited.
func (e *Engine) failureDelay() {
	min := e.config.Password.FailureDelayMin
	max := e.config.Password.FailureDelayMax
	if max <= min {
		if min > 0 {
			time.Sleep(min)
		}
		return
	}
	span := int64(max - min)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		time.Sleep(min)
		return
	}
	time.Sleep(min + time.Duration(n.Int64()))
}

func (e *Engine) sendTokenLink(ctx context.Context, user UserRecord, tokenType TokenType, rawToken string) error {
	if e.mailer == nil {
		return ErrMailerNotConfigured
	}
	if err := e.mailer.SendTokenLink(ctx, user.Email, user.Locale, tokenType, rawToken); err != nil {
		return ErrServiceUnavailable
	}
	return nil
}
