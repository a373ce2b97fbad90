package authcore

import (
	"context"

	"github.com/arielzev/authcore/internal"
	"github.com/arielzev/authcore/policy"
)

// GenerateBackupCodes mints a fresh set of recovery codes for the user and
// returns their plaintext. This is the only time the plaintext exists; storage
// keeps salted hashes. Any previous set is invalidated wholesale. Requires a
// fresh step-up attestation.
func (e *Engine) GenerateBackupCodes(ctx context.Context, sessionID string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	session, err := e.requireFreshStepUp(ctx, sessionID, policy.ActionRegenerateBackupCodes)
	if err != nil {
		return nil, err
	}

	user, err := e.getUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.EmailTwoFactor && !user.TOTPEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	count := e.config.TwoFactor.BackupCodeCount
	length := e.config.TwoFactor.BackupCodeLength

	plain := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewCode(length)
		if err != nil {
			return nil, err
		}
		plain = append(plain, internal.FormatCode(code))
		records = append(records, BackupCodeRecord{
			Hash: internal.SaltedCodeHash(user.UserID, code),
		})
	}

	if err := e.provider.ReplaceBackupCodes(ctx, user.UserID, records); err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, "backup_codes.generate", true, user.UserID, sessionID, nil, nil)
	return plain, nil
}

// BackupCodesRemaining reports how many unused codes the user still holds.
// Returns [ErrBackupCodesNotConfigured] when no set was ever generated.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	codes, err := e.provider.GetBackupCodes(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(codes) == 0 {
		return 0, ErrBackupCodesNotConfigured
	}

	remaining := 0
	for _, code := range codes {
		if !code.Used {
			remaining++
		}
	}
	return remaining, nil
}
