package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arielzev/authcore"
)

const passkeyColumns = `credential_id, user_id, public_key, attestation_type,
	transports, aaguid, sign_count, backup_eligible, backup_state,
	device_name, created_at, last_used_at`

// Transports are stored as a comma-joined string; the set is small and only
// ever read back whole.
func joinTransports(transports []string) string {
	return strings.Join(transports, ",")
}

func splitTransports(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func scanPasskey(scan func(dest ...any) error) (authcore.PasskeyCredentialRecord, error) {
	var (
		record     authcore.PasskeyCredentialRecord
		transports string
		signCount  int64
		lastUsedAt sql.NullTime
	)
	err := scan(
		&record.CredentialID, &record.UserID, &record.PublicKey, &record.AttestationType,
		&transports, &record.AAGUID, &signCount, &record.BackupEligible, &record.BackupState,
		&record.DeviceName, &record.CreatedAt, &lastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.PasskeyCredentialRecord{}, ErrNotFound
		}
		return authcore.PasskeyCredentialRecord{}, fmt.Errorf("scan passkey: %w", err)
	}
	record.Transports = splitTransports(transports)
	record.SignCount = uint32(signCount)
	if lastUsedAt.Valid {
		record.LastUsedAt = &lastUsedAt.Time
	}
	return record, nil
}

// GetPasskeys describes the getpasskeys operation and its observable behavior.
func (s *Store) GetPasskeys(ctx context.Context, userID string) ([]authcore.PasskeyCredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkey_credentials WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("select passkeys: %w", err)
	}
	defer rows.Close()

	var out []authcore.PasskeyCredentialRecord
	for rows.Next() {
		record, err := scanPasskey(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// GetPasskeyByCredentialID describes the getpasskeybycredentialid operation and its observable behavior.
func (s *Store) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (authcore.PasskeyCredentialRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkey_credentials WHERE credential_id = $1`,
		credentialID)
	return scanPasskey(row.Scan)
}

// CreatePasskey describes the createpasskey operation and its observable behavior.
func (s *Store) CreatePasskey(ctx context.Context, record authcore.PasskeyCredentialRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passkey_credentials (credential_id, user_id, public_key,
			attestation_type, transports, aaguid, sign_count, backup_eligible,
			backup_state, device_name, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.CredentialID, record.UserID, record.PublicKey,
		record.AttestationType, joinTransports(record.Transports),
		record.AAGUID, int64(record.SignCount), record.BackupEligible,
		record.BackupState, record.DeviceName, record.CreatedAt, record.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("insert passkey: %w", err)
	}
	return nil
}

// UpdatePasskeyCounter advances the stored counter only when the new value is
// strictly greater, enforcing monotonicity inside the database.
func (s *Store) UpdatePasskeyCounter(ctx context.Context, credentialID []byte, newCount uint32, usedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE passkey_credentials SET sign_count = $2, last_used_at = $3
		WHERE credential_id = $1 AND sign_count < $2`,
		credentialID, int64(newCount), usedAt)
	if err != nil {
		return false, fmt.Errorf("update passkey counter: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TouchPasskey records a use for credentials whose authenticator never
// advances its counter, leaving sign_count alone.
func (s *Store) TouchPasskey(ctx context.Context, credentialID []byte, usedAt time.Time) error {
	return s.execOne(ctx,
		`UPDATE passkey_credentials SET last_used_at = $2 WHERE credential_id = $1`,
		credentialID, usedAt)
}

// DeletePasskey describes the deletepasskey operation and its observable behavior.
func (s *Store) DeletePasskey(ctx context.Context, userID string, credentialID []byte) error {
	return s.execOne(ctx,
		`DELETE FROM passkey_credentials WHERE user_id = $1 AND credential_id = $2`,
		userID, credentialID)
}
