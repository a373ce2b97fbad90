package internaldefs

import (
	"github.com/arielzev/authcore"
)

// CounterDef defines a public type used by authcore APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication core.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricPasswordVerifySuccess, Name: "authcore_password_verify_success_total", Help: "Successful password verifications."},
	{ID: authcore.MetricPasswordVerifyFailure, Name: "authcore_password_verify_failure_total", Help: "Failed password verifications."},
	{ID: authcore.MetricPasswordChanged, Name: "authcore_password_changed_total", Help: "Completed password changes."},
	{ID: authcore.MetricPasswordResetIssued, Name: "authcore_password_reset_issued_total", Help: "Issued password reset tokens."},
	{ID: authcore.MetricPasswordResetCompleted, Name: "authcore_password_reset_completed_total", Help: "Completed password resets."},
	{ID: authcore.MetricTokenIssued, Name: "authcore_token_issued_total", Help: "Issued single-use tokens."},
	{ID: authcore.MetricTokenConsumed, Name: "authcore_token_consumed_total", Help: "Consumed single-use tokens."},
	{ID: authcore.MetricTokenRejected, Name: "authcore_token_rejected_total", Help: "Rejected single-use token presentations."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Successful two-factor verifications."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed two-factor verifications."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Two-factor enablement operations."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Two-factor disablement operations."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Successful backup-code authentications."},
	{ID: authcore.MetricBackupCodeFailed, Name: "authcore_backup_code_failed_total", Help: "Failed backup-code authentications."},
	{ID: authcore.MetricBackupCodesRegenerated, Name: "authcore_backup_codes_regenerated_total", Help: "Backup-code regeneration operations."},
	{ID: authcore.MetricPasskeyRegistered, Name: "authcore_passkey_registered_total", Help: "Registered passkey credentials."},
	{ID: authcore.MetricPasskeyAuthSuccess, Name: "authcore_passkey_auth_success_total", Help: "Successful passkey assertions."},
	{ID: authcore.MetricPasskeyAuthFailure, Name: "authcore_passkey_auth_failure_total", Help: "Failed passkey assertions."},
	{ID: authcore.MetricPasskeyCounterRegression, Name: "authcore_passkey_counter_regression_total", Help: "Rejected passkey sign-count regressions."},
	{ID: authcore.MetricStepUpSuccess, Name: "authcore_step_up_success_total", Help: "Successful step-up attestations."},
	{ID: authcore.MetricStepUpFailure, Name: "authcore_step_up_failure_total", Help: "Failed step-up attempts."},
	{ID: authcore.MetricStepUpTokenReplay, Name: "authcore_step_up_token_replay_total", Help: "Detected step-up token replays."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Revoked sessions."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Operations failed closed on store unavailability."},
}
