package authcore

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/arielzev/authcore/internal"
	"github.com/arielzev/authcore/policy"
)

const (
	totpSetupChallengePurpose  = "totp_setup"
	emailSetupChallengePurpose = "email_2fa_setup"
)

// TwoFactorState is the caller-facing summary of a user's second-factor
// configuration.
type TwoFactorState struct {
	EmailEnabled     bool
	TOTPEnabled      bool
	PreferredMethod  TwoFactorMethod
	BackupCodesLeft  int
	BackupConfigured bool
}

// TOTPSetup is the provisioning material returned by [Engine.BeginTOTPSetup].
// The secret is pending until a valid code proves the authenticator holds it.
type TOTPSetup struct {
	SecretBase32 string
	ProvisionURI string
}

// TwoFactorStatus reports the user's second-factor configuration.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (TwoFactorState, error) {
	if e == nil {
		return TwoFactorState{}, ErrEngineNotReady
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return TwoFactorState{}, err
	}

	codes, err := e.provider.GetBackupCodes(ctx, userID)
	if err != nil {
		return TwoFactorState{}, err
	}
	remaining := 0
	for _, code := range codes {
		if !code.Used {
			remaining++
		}
	}

	return TwoFactorState{
		EmailEnabled:     user.EmailTwoFactor,
		TOTPEnabled:      user.TOTPEnabled,
		PreferredMethod:  user.PreferredMethod,
		BackupCodesLeft:  remaining,
		BackupConfigured: len(codes) > 0,
	}, nil
}

// SendTwoFactorCode issues a short-lived email login code and mails it. The
// code is stored as a salted hash only. Sends spend points from the resend
// bucket keyed by user.
func (e *Engine) SendTwoFactorCode(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.EmailTwoFactor {
		return ErrTwoFactorNotEnabled
	}
	if e.mailer == nil {
		return ErrMailerNotConfigured
	}

	if err := e.consumeLimit(ctx, policy.CategoryTwoFactorResend, "user:"+userID); err != nil {
		return err
	}

	code, err := internal.NewDigits(e.config.TwoFactor.EmailCodeDigits)
	if err != nil {
		return err
	}

	// A fresh code invalidates any outstanding one.
	_ = e.provider.DeleteTokensForUser(ctx, userID, TokenTwoFactorEmail)

	now := e.clock()
	record := TokenRecord{
		ID:         uuid.NewString(),
		Type:       TokenTwoFactorEmail,
		UserID:     userID,
		SecretHash: internal.SaltedCodeHash(userID, code),
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.config.TwoFactor.EmailCodeTTL),
	}
	if err := e.provider.CreateToken(ctx, record); err != nil {
		return err
	}

	if err := e.mailer.SendTwoFactorCode(ctx, user.Email, user.Locale, code); err != nil {
		return ErrServiceUnavailable
	}

	e.emitAudit(ctx, "twofactor.code_sent", true, userID, "", nil, nil)
	return nil
}

// VerifyTwoFactor checks a second-factor code for the user and, on success,
// marks the session fully authenticated as of now. All failures are uniform
// [ErrTwoFactorInvalid]; attempts spend points from the verify bucket.
func (e *Engine) VerifyTwoFactor(ctx context.Context, userID, sessionID string, method TwoFactorMethod, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := e.consumeLimit(ctx, policy.CategoryTwoFactorVerify, "user:"+userID); err != nil {
		return err
	}

	var ok bool
	switch method {
	case MethodEmail:
		ok, err = e.verifyEmailCode(ctx, user, code)
	case MethodTOTP:
		ok, err = e.verifyTOTPCode(ctx, user, code)
	case MethodBackupCode:
		ok, err = e.verifyBackupCode(ctx, user, code)
	default:
		return ErrTwoFactorInvalid
	}
	if err != nil {
		return err
	}

	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, "twofactor.verify", false, userID, sessionID, ErrTwoFactorInvalid, func() map[string]string {
			return map[string]string{"method": method.String()}
		})
		return ErrTwoFactorInvalid
	}

	now := e.clock()
	if sessionID != "" {
		session, sessErr := e.provider.GetSession(ctx, sessionID)
		if sessErr == nil && session.UserID == userID {
			_ = e.provider.UpdateSessionAuthTimes(ctx, sessionID, now, session.StepUpAuthAt)
		}
	}

	e.resetLimit(ctx, policy.CategoryTwoFactorVerify, "user:"+userID)
	e.metricInc(MetricTwoFactorSuccess)
	if method == MethodBackupCode {
		e.metricInc(MetricBackupCodeUsed)
	}
	e.emitAudit(ctx, "twofactor.verify", true, userID, sessionID, nil, func() map[string]string {
		return map[string]string{"method": method.String()}
	})
	return nil
}

func (e *Engine) verifyEmailCode(ctx context.Context, user UserRecord, code string) (bool, error) {
	if !user.EmailTwoFactor {
		return false, ErrTwoFactorNotEnabled
	}

	hash := internal.SaltedCodeHash(user.UserID, code)
	record, err := e.provider.GetTokenByHash(ctx, TokenTwoFactorEmail, hash)
	if err != nil {
		return false, nil
	}
	if record.UserID != user.UserID || record.ConsumedAt != nil || !e.clock().Before(record.ExpiresAt) {
		return false, nil
	}

	consumed, err := e.provider.ConsumeToken(ctx, record.ID, e.clock())
	if err != nil {
		return false, err
	}
	return consumed, nil
}

func (e *Engine) verifyTOTPCode(ctx context.Context, user UserRecord, code string) (bool, error) {
	if !user.TOTPEnabled {
		return false, ErrTwoFactorNotEnabled
	}
	if len(user.TOTPSecretSealed) == 0 {
		return false, ErrTOTPNotConfigured
	}

	secret, err := internal.Open(user.TOTPSecretSealed, e.config.TOTP.SealKey)
	if err != nil {
		return false, ErrTOTPNotConfigured
	}
	ok, counter, err := e.totp.VerifyCode(secret, code, e.clock())
	if err != nil || !ok {
		return false, err
	}

	// An accepted code's time-step counter is spent; presenting the same code
	// again within the skew window is a replay.
	if counter <= user.TOTPLastCounter {
		return false, nil
	}
	if err := e.provider.UpdateTOTPLastUsedCounter(ctx, user.UserID, counter); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) verifyBackupCode(ctx context.Context, user UserRecord, code string) (bool, error) {
	canonical := internal.CanonicalizeCode(code)
	if canonical == "" {
		return false, nil
	}
	hash := internal.SaltedCodeHash(user.UserID, canonical)
	spent, err := e.provider.ConsumeBackupCode(ctx, user.UserID, hash)
	if err != nil {
		return false, err
	}
	if !spent {
		e.metricInc(MetricBackupCodeFailed)
	}
	return spent, nil
}

// BeginEmailTwoFactorSetup mails a one-time code to the account address.
// Nothing is committed until [Engine.ConfirmEmailTwoFactorSetup] proves the
// address actually received it. Requires a fresh step-up attestation; sends
// spend points from the resend bucket.
func (e *Engine) BeginEmailTwoFactorSetup(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionEnableEmailTwoFactor)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	if user.EmailTwoFactor {
		return ErrTwoFactorAlreadyEnabled
	}
	if e.mailer == nil {
		return ErrMailerNotConfigured
	}

	if err := e.consumeLimit(ctx, policy.CategoryTwoFactorResend, "user:"+user.UserID); err != nil {
		return err
	}

	code, err := internal.NewDigits(e.config.TwoFactor.EmailCodeDigits)
	if err != nil {
		return err
	}

	hash := internal.SaltedCodeHash(user.UserID, code)
	if err := e.challenges.SaveChallenge(ctx, emailSetupChallengePurpose, user.UserID, hash[:], e.config.TwoFactor.EmailCodeTTL); err != nil {
		return ErrServiceUnavailable
	}

	if err := e.mailer.SendTwoFactorCode(ctx, user.Email, user.Locale, code); err != nil {
		return ErrServiceUnavailable
	}

	e.emitAudit(ctx, "twofactor.email_setup_started", true, user.UserID, sessionID, nil, nil)
	return nil
}

// ConfirmEmailTwoFactorSetup checks the mailed code and, on match, turns on
// email codes as a second factor. The challenge is single-attempt; a wrong
// code restarts the setup.
func (e *Engine) ConfirmEmailTwoFactorSetup(ctx context.Context, sessionID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionEnableEmailTwoFactor)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	if user.EmailTwoFactor {
		return ErrTwoFactorAlreadyEnabled
	}

	expected, err := e.challenges.TakeChallenge(ctx, emailSetupChallengePurpose, user.UserID)
	if err != nil {
		return ErrEmailSetupNotStarted
	}

	hash := internal.SaltedCodeHash(user.UserID, code)
	if subtle.ConstantTimeCompare(expected, hash[:]) != 1 {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, "twofactor.email_setup", false, user.UserID, sessionID, ErrTwoFactorInvalid, nil)
		return ErrTwoFactorInvalid
	}

	if err := e.provider.SetEmailTwoFactor(ctx, user.UserID, true); err != nil {
		return err
	}
	if err := e.applyInvalidation(ctx, policy.EventTwoFactorEnabled, user.UserID, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, "twofactor.email_enabled", true, user.UserID, sessionID, nil, nil)
	return nil
}

// DisableEmailTwoFactor turns off email codes. Other sessions are revoked;
// the acting session stays valid.
func (e *Engine) DisableEmailTwoFactor(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionDisableEmailTwoFactor)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	if !user.EmailTwoFactor {
		return ErrTwoFactorNotEnabled
	}

	if err := e.provider.SetEmailTwoFactor(ctx, user.UserID, false); err != nil {
		return err
	}
	_ = e.provider.DeleteTokensForUser(ctx, user.UserID, TokenTwoFactorEmail)

	if err := e.applyInvalidation(ctx, policy.EventTwoFactorDisabled, user.UserID, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, "twofactor.email_disabled", true, user.UserID, sessionID, nil, nil)
	return nil
}

type totpSetupChallenge struct {
	Secret []byte `json:"secret"`
}

// BeginTOTPSetup generates a pending authenticator secret and returns its
// provisioning material. Nothing is committed to the account until
// [Engine.ConfirmTOTPSetup] proves the authenticator produced a valid code.
func (e *Engine) BeginTOTPSetup(ctx context.Context, sessionID string) (TOTPSetup, error) {
	if e == nil {
		return TOTPSetup{}, ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionEnableTOTP)
	if err != nil {
		return TOTPSetup{}, err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return TOTPSetup{}, err
	}
	if user.TOTPEnabled {
		return TOTPSetup{}, ErrTwoFactorAlreadyEnabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return TOTPSetup{}, err
	}

	payload, err := json.Marshal(totpSetupChallenge{Secret: secret})
	if err != nil {
		return TOTPSetup{}, err
	}
	if err := e.challenges.SaveChallenge(ctx, totpSetupChallengePurpose, user.UserID, payload, e.config.Passkey.ChallengeTTL); err != nil {
		return TOTPSetup{}, ErrServiceUnavailable
	}

	return TOTPSetup{
		SecretBase32: secretBase32,
		ProvisionURI: e.totp.ProvisionURI(secretBase32, user.Email),
	}, nil
}

// ConfirmTOTPSetup verifies a code against the pending secret and, on match,
// seals and commits the secret to the account.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, sessionID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionEnableTOTP)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return err
	}

	payload, err := e.challenges.TakeChallenge(ctx, totpSetupChallengePurpose, user.UserID)
	if err != nil {
		return ErrTOTPSetupNotStarted
	}
	var challenge totpSetupChallenge
	if err := json.Unmarshal(payload, &challenge); err != nil {
		return ErrTOTPSetupNotStarted
	}

	ok, counter, err := e.totp.VerifyCode(challenge.Secret, code, e.clock())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, "twofactor.totp_setup", false, user.UserID, sessionID, ErrTwoFactorInvalid, nil)
		return ErrTwoFactorInvalid
	}

	sealed, err := internal.Seal(challenge.Secret, e.config.TOTP.SealKey)
	if err != nil {
		return err
	}
	if err := e.provider.SetTOTP(ctx, user.UserID, true, sealed); err != nil {
		return err
	}
	// The setup code's counter is spent too; it must not also pass login.
	if err := e.provider.UpdateTOTPLastUsedCounter(ctx, user.UserID, counter); err != nil {
		return err
	}
	if err := e.applyInvalidation(ctx, policy.EventTwoFactorEnabled, user.UserID, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, "twofactor.totp_enabled", true, user.UserID, sessionID, nil, nil)
	return nil
}

// DisableTOTP removes the authenticator secret. A valid current code is
// required on top of a fresh step-up attestation. Other sessions are revoked.
func (e *Engine) DisableTOTP(ctx context.Context, sessionID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionDisableTOTP)
	if err != nil {
		return err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	if !user.TOTPEnabled {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.verifyTOTPCode(ctx, user, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		return ErrTwoFactorInvalid
	}

	if err := e.provider.SetTOTP(ctx, user.UserID, false, nil); err != nil {
		return err
	}
	if err := e.applyInvalidation(ctx, policy.EventTwoFactorDisabled, user.UserID, sessionID); err != nil {
		return err
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, "twofactor.totp_disabled", true, user.UserID, sessionID, nil, nil)
	return nil
}

// SetPreferredTwoFactorMethod records which second factor login should offer
// first. The method must be enabled on the account.
func (e *Engine) SetPreferredTwoFactorMethod(ctx context.Context, userID string, method TwoFactorMethod) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}

	switch method {
	case MethodEmail:
		if !user.EmailTwoFactor {
			return ErrTwoFactorNotEnabled
		}
	case MethodTOTP:
		if !user.TOTPEnabled {
			return ErrTwoFactorNotEnabled
		}
	default:
		return ErrValidation
	}

	return e.provider.SetPreferredMethod(ctx, userID, method)
}
