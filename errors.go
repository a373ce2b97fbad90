package authcore

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the authentication core.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnauthorized is an exported constant or variable used by the authentication core.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is an exported constant or variable used by the authentication core.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is an exported constant or variable used by the authentication core.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is an exported constant or variable used by the authentication core.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInvalid is an exported constant or variable used by the authentication core.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrStepUpRequired is an exported constant or variable used by the authentication core.
	ErrStepUpRequired = errors.New("step-up authentication required")
	// ErrStepUpStale is an exported constant or variable used by the authentication core.
	ErrStepUpStale = errors.New("step-up attestation stale")
	// ErrRateLimited is an exported constant or variable used by the authentication core.
	ErrRateLimited = errors.New("rate limited")
	// ErrServiceUnavailable is an exported constant or variable used by the authentication core.
	ErrServiceUnavailable = errors.New("backend unavailable")
	// ErrTokenInvalid is an exported constant or variable used by the authentication core.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTwoFactorInvalid is an exported constant or variable used by the authentication core.
	ErrTwoFactorInvalid = errors.New("invalid code")
	// ErrTwoFactorAlreadyEnabled is an exported constant or variable used by the authentication core.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor method already enabled")
	// ErrTwoFactorNotEnabled is an exported constant or variable used by the authentication core.
	ErrTwoFactorNotEnabled = errors.New("two-factor method not enabled")
	// ErrTOTPNotConfigured is an exported constant or variable used by the authentication core.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPSetupNotStarted is an exported constant or variable used by the authentication core.
	ErrTOTPSetupNotStarted = errors.New("totp setup not started")
	// ErrEmailSetupNotStarted is an exported constant or variable used by the authentication core.
	ErrEmailSetupNotStarted = errors.New("email two-factor setup not started")
	// ErrBackupCodesNotConfigured is an exported constant or variable used by the authentication core.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrPasskeyNotFound is an exported constant or variable used by the authentication core.
	ErrPasskeyNotFound = errors.New("passkey credential not found")
	// ErrPasskeyCeremonyInvalid is an exported constant or variable used by the authentication core.
	ErrPasskeyCeremonyInvalid = errors.New("passkey ceremony invalid")
	// ErrPasskeyCounterRegression is an exported constant or variable used by the authentication core.
	ErrPasskeyCounterRegression = errors.New("passkey signature counter regression")
	// ErrChallengeNotFound is an exported constant or variable used by the authentication core.
	ErrChallengeNotFound = errors.New("ceremony challenge not found or expired")
	// ErrMailerNotConfigured is an exported constant or variable used by the authentication core.
	ErrMailerNotConfigured = errors.New("mailer not configured")
	// ErrValidation is an exported constant or variable used by the authentication core.
	ErrValidation = errors.New("invalid input")
	// ErrEmailTaken is an exported constant or variable used by the authentication core.
	ErrEmailTaken = errors.New("email already in use")
	// ErrPasswordPolicy is an exported constant or variable used by the authentication core.
	ErrPasswordPolicy = errors.New("password policy violation")
)
