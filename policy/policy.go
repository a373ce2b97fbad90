// Package policy holds the static security decision tables: which actions
// require step-up re-authentication, which security events invalidate sessions
// and how broadly, and which rate-limit bucket guards which endpoint category.
//
// The tables are data, not code. Route-level callers and the engine consult
// them instead of hardcoding decisions, so a security audit of "what is
// sensitive" reviews exactly this package. [Validate] checks the tables for
// completeness and is run by the engine builder at startup; a new enum member
// without an entry fails construction instead of silently defaulting.
package policy

import "fmt"

// SensitiveAction enumerates operations that require a fresh step-up
// attestation before they may proceed.
type SensitiveAction uint8

const (
	// ActionChangePassword is an exported constant or variable used by the security policy tables.
	ActionChangePassword SensitiveAction = iota
	// ActionInitiateEmailChange is an exported constant or variable used by the security policy tables.
	ActionInitiateEmailChange
	// ActionConfirmEmailChange is an exported constant or variable used by the security policy tables.
	ActionConfirmEmailChange
	// ActionRegisterPasskey is an exported constant or variable used by the security policy tables.
	ActionRegisterPasskey
	// ActionDeletePasskey is an exported constant or variable used by the security policy tables.
	ActionDeletePasskey
	// ActionEnableTOTP is an exported constant or variable used by the security policy tables.
	ActionEnableTOTP
	// ActionDisableTOTP is an exported constant or variable used by the security policy tables.
	ActionDisableTOTP
	// ActionEnableEmailTwoFactor is an exported constant or variable used by the security policy tables.
	ActionEnableEmailTwoFactor
	// ActionDisableEmailTwoFactor is an exported constant or variable used by the security policy tables.
	ActionDisableEmailTwoFactor
	// ActionViewBackupCodes is an exported constant or variable used by the security policy tables.
	ActionViewBackupCodes
	// ActionRegenerateBackupCodes is an exported constant or variable used by the security policy tables.
	ActionRegenerateBackupCodes
	// ActionRevokeOtherSession is an exported constant or variable used by the security policy tables.
	ActionRevokeOtherSession
	// ActionRevokeAllSessions is an exported constant or variable used by the security policy tables.
	ActionRevokeAllSessions

	sensitiveActionCount
)

var sensitiveActionNames = map[SensitiveAction]string{
	ActionChangePassword:        "change_password",
	ActionInitiateEmailChange:   "initiate_email_change",
	ActionConfirmEmailChange:    "confirm_email_change",
	ActionRegisterPasskey:       "register_passkey",
	ActionDeletePasskey:         "delete_passkey",
	ActionEnableTOTP:            "enable_totp",
	ActionDisableTOTP:           "disable_totp",
	ActionEnableEmailTwoFactor:  "enable_email_two_factor",
	ActionDisableEmailTwoFactor: "disable_email_two_factor",
	ActionViewBackupCodes:       "view_backup_codes",
	ActionRegenerateBackupCodes: "regenerate_backup_codes",
	ActionRevokeOtherSession:    "revoke_other_session",
	ActionRevokeAllSessions:     "revoke_all_sessions",
}

// String describes the string operation and its observable behavior.
func (a SensitiveAction) String() string {
	if name, ok := sensitiveActionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("sensitive_action(%d)", uint8(a))
}

// SensitiveActions maps every action to whether step-up is required. Every
// member of [SensitiveAction] must appear; absence is a validation error, not
// an implicit "no".
var SensitiveActions = map[SensitiveAction]bool{
	ActionChangePassword:        true,
	ActionInitiateEmailChange:   true,
	ActionConfirmEmailChange:    true,
	ActionRegisterPasskey:       true,
	ActionDeletePasskey:         true,
	ActionEnableTOTP:            true,
	ActionDisableTOTP:           true,
	ActionEnableEmailTwoFactor:  true,
	ActionDisableEmailTwoFactor: true,
	ActionViewBackupCodes:       true,
	ActionRegenerateBackupCodes: true,
	ActionRevokeOtherSession:    true,
	ActionRevokeAllSessions:     true,
}

// RequiresStepUp describes the requiresstepup operation and its observable behavior.
func RequiresStepUp(action SensitiveAction) bool {
	return SensitiveActions[action]
}

// InvalidationEffect is the session blast radius of a security event.
type InvalidationEffect uint8

const (
	// InvalidateNone is an exported constant or variable used by the security policy tables.
	InvalidateNone InvalidationEffect = iota
	// InvalidateOthers revokes every session except the one performing the action.
	InvalidateOthers
	// InvalidateAll revokes every session including the current one.
	InvalidateAll
)

// SecurityEvent enumerates account-level events that may invalidate sessions.
type SecurityEvent string

const (
	// EventPasswordChange is an exported constant or variable used by the security policy tables.
	EventPasswordChange SecurityEvent = "password_change"
	// EventPasswordReset is an exported constant or variable used by the security policy tables.
	EventPasswordReset SecurityEvent = "password_reset"
	// EventEmailChange is an exported constant or variable used by the security policy tables.
	EventEmailChange SecurityEvent = "email_change"
	// EventTwoFactorEnabled is an exported constant or variable used by the security policy tables.
	EventTwoFactorEnabled SecurityEvent = "two_factor_enabled"
	// EventTwoFactorDisabled is an exported constant or variable used by the security policy tables.
	EventTwoFactorDisabled SecurityEvent = "two_factor_disabled"
	// EventPasskeyRegistered is an exported constant or variable used by the security policy tables.
	EventPasskeyRegistered SecurityEvent = "passkey_registered"
	// EventPasskeyDeleted is an exported constant or variable used by the security policy tables.
	EventPasskeyDeleted SecurityEvent = "passkey_deleted"
	// EventRolePermissionsUpdate is an exported constant or variable used by the security policy tables.
	EventRolePermissionsUpdate SecurityEvent = "role_permissions_update"
	// EventAccountDeactivated is an exported constant or variable used by the security policy tables.
	EventAccountDeactivated SecurityEvent = "account_deactivated"
)

// SessionInvalidationTriggers maps each security event to its blast radius.
//
// The password_change → InvalidateOthers vs password_reset → InvalidateAll
// asymmetry is deliberate: a self-service change keeps the session that proved
// itself via step-up, a forced reset assumes the account was compromised.
var SessionInvalidationTriggers = map[SecurityEvent]InvalidationEffect{
	EventPasswordChange:        InvalidateOthers,
	EventPasswordReset:         InvalidateAll,
	EventEmailChange:           InvalidateOthers,
	EventTwoFactorEnabled:      InvalidateNone,
	EventTwoFactorDisabled:     InvalidateOthers,
	EventPasskeyRegistered:     InvalidateNone,
	EventPasskeyDeleted:        InvalidateOthers,
	EventRolePermissionsUpdate: InvalidateAll,
	EventAccountDeactivated:    InvalidateAll,
}

var allSecurityEvents = []SecurityEvent{
	EventPasswordChange,
	EventPasswordReset,
	EventEmailChange,
	EventTwoFactorEnabled,
	EventTwoFactorDisabled,
	EventPasskeyRegistered,
	EventPasskeyDeleted,
	EventRolePermissionsUpdate,
	EventAccountDeactivated,
}

// InvalidationFor describes the invalidationfor operation and its observable behavior.
func InvalidationFor(event SecurityEvent) InvalidationEffect {
	return SessionInvalidationTriggers[event]
}

// RateLimitBucket names a sliding-window budget tier in the shared counter
// store.
type RateLimitBucket string

const (
	// BucketAuth is an exported constant or variable used by the security policy tables.
	BucketAuth RateLimitBucket = "auth"
	// BucketPasswordReset is an exported constant or variable used by the security policy tables.
	BucketPasswordReset RateLimitBucket = "passwordReset"
	// BucketTwoFactorVerify is an exported constant or variable used by the security policy tables.
	BucketTwoFactorVerify RateLimitBucket = "twoFactorVerify"
	// BucketTwoFactorResend is an exported constant or variable used by the security policy tables.
	BucketTwoFactorResend RateLimitBucket = "twoFactorResend"
	// BucketStepUpAuth is an exported constant or variable used by the security policy tables.
	BucketStepUpAuth RateLimitBucket = "stepUpAuth"
	// BucketSensitiveAction is an exported constant or variable used by the security policy tables.
	BucketSensitiveAction RateLimitBucket = "sensitiveAction"
	// BucketTokenValidation is an exported constant or variable used by the security policy tables.
	BucketTokenValidation RateLimitBucket = "tokenValidation"
	// BucketDefault is an exported constant or variable used by the security policy tables.
	BucketDefault RateLimitBucket = "default"
)

// EndpointCategory groups routes for rate-limit assignment.
type EndpointCategory string

const (
	// CategoryLogin is an exported constant or variable used by the security policy tables.
	CategoryLogin EndpointCategory = "login"
	// CategoryPasswordReset is an exported constant or variable used by the security policy tables.
	CategoryPasswordReset EndpointCategory = "password_reset"
	// CategoryTwoFactorVerify is an exported constant or variable used by the security policy tables.
	CategoryTwoFactorVerify EndpointCategory = "two_factor_verify"
	// CategoryTwoFactorResend is an exported constant or variable used by the security policy tables.
	CategoryTwoFactorResend EndpointCategory = "two_factor_resend"
	// CategoryStepUp is an exported constant or variable used by the security policy tables.
	CategoryStepUp EndpointCategory = "step_up"
	// CategorySensitiveMutation is an exported constant or variable used by the security policy tables.
	CategorySensitiveMutation EndpointCategory = "sensitive_mutation"
	// CategoryTokenValidation is an exported constant or variable used by the security policy tables.
	CategoryTokenValidation EndpointCategory = "token_validation"
	// CategoryGeneral is an exported constant or variable used by the security policy tables.
	CategoryGeneral EndpointCategory = "general"
)

// RateLimitPolicy maps endpoint categories to limiter buckets.
var RateLimitPolicy = map[EndpointCategory]RateLimitBucket{
	CategoryLogin:             BucketAuth,
	CategoryPasswordReset:     BucketPasswordReset,
	CategoryTwoFactorVerify:   BucketTwoFactorVerify,
	CategoryTwoFactorResend:   BucketTwoFactorResend,
	CategoryStepUp:            BucketStepUpAuth,
	CategorySensitiveMutation: BucketSensitiveAction,
	CategoryTokenValidation:   BucketTokenValidation,
	CategoryGeneral:           BucketDefault,
}

var allEndpointCategories = []EndpointCategory{
	CategoryLogin,
	CategoryPasswordReset,
	CategoryTwoFactorVerify,
	CategoryTwoFactorResend,
	CategoryStepUp,
	CategorySensitiveMutation,
	CategoryTokenValidation,
	CategoryGeneral,
}

// BucketFor describes the bucketfor operation and its observable behavior.
func BucketFor(category EndpointCategory) RateLimitBucket {
	if bucket, ok := RateLimitPolicy[category]; ok {
		return bucket
	}
	return BucketDefault
}

// Validate checks every table for completeness: each enum member must have an
// explicit entry. Called at engine construction so a policy gap is a startup
// failure, not a silent default at request time.
func Validate() error {
	for a := SensitiveAction(0); a < sensitiveActionCount; a++ {
		if _, ok := SensitiveActions[a]; !ok {
			return fmt.Errorf("policy: sensitive action %s has no step-up entry", a)
		}
		if _, ok := sensitiveActionNames[a]; !ok {
			return fmt.Errorf("policy: sensitive action %d has no name", uint8(a))
		}
	}
	for _, event := range allSecurityEvents {
		if _, ok := SessionInvalidationTriggers[event]; !ok {
			return fmt.Errorf("policy: security event %s has no invalidation entry", event)
		}
	}
	for _, category := range allEndpointCategories {
		if _, ok := RateLimitPolicy[category]; !ok {
			return fmt.Errorf("policy: endpoint category %s has no rate-limit bucket", category)
		}
	}
	return nil
}
