package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arielzev/authcore"
)

// ErrNotFound is an exported constant or variable used by the authentication core.
var ErrNotFound = errors.New("record not found")

const userColumns = `user_id, email, password_hash, active, locale,
	email_two_factor, totp_enabled, totp_secret_sealed, totp_last_counter, preferred_method`

func scanUser(row *sql.Row) (authcore.UserRecord, error) {
	var (
		user      authcore.UserRecord
		sealed    []byte
		preferred int16
	)
	err := row.Scan(
		&user.UserID, &user.Email, &user.PasswordHash, &user.Active, &user.Locale,
		&user.EmailTwoFactor, &user.TOTPEnabled, &sealed, &user.TOTPLastCounter, &preferred,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.UserRecord{}, ErrNotFound
		}
		return authcore.UserRecord{}, fmt.Errorf("scan user: %w", err)
	}
	user.TOTPSecretSealed = sealed
	user.PreferredMethod = authcore.TwoFactorMethod(preferred)
	return user, nil
}

// CreateUser inserts a new account row. It is not part of authcore.Provider
// but hosts need it to provision accounts before inviting them.
func (s *Store) CreateUser(ctx context.Context, user authcore.UserRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, email, password_hash, active, locale,
			email_two_factor, totp_enabled, totp_secret_sealed, preferred_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.UserID, user.Email, user.PasswordHash, user.Active, user.Locale,
		user.EmailTwoFactor, user.TOTPEnabled, user.TOTPSecretSealed, int16(user.PreferredMethod),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID describes the getuserbyid operation and its observable behavior.
func (s *Store) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	return scanUser(row)
}

// GetUserByEmail describes the getuserbyemail operation and its observable behavior.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// UpdatePasswordHash describes the updatepasswordhash operation and its observable behavior.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return s.execOne(ctx,
		`UPDATE users SET password_hash = $2 WHERE user_id = $1`, userID, newHash)
}

// UpdateEmail describes the updateemail operation and its observable behavior.
func (s *Store) UpdateEmail(ctx context.Context, userID, newEmail string) error {
	return s.execOne(ctx,
		`UPDATE users SET email = $2 WHERE user_id = $1`, userID, newEmail)
}

// SetEmailTwoFactor describes the setemailtwofactor operation and its observable behavior.
func (s *Store) SetEmailTwoFactor(ctx context.Context, userID string, enabled bool) error {
	return s.execOne(ctx,
		`UPDATE users SET email_two_factor = $2 WHERE user_id = $1`, userID, enabled)
}

// SetTOTP describes the settotp operation and its observable behavior.
func (s *Store) SetTOTP(ctx context.Context, userID string, enabled bool, sealedSecret []byte) error {
	return s.execOne(ctx,
		`UPDATE users SET totp_enabled = $2, totp_secret_sealed = $3 WHERE user_id = $1`,
		userID, enabled, sealedSecret)
}

// UpdateTOTPLastUsedCounter describes the updatetotplastusedcounter operation and its observable behavior.
func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error {
	return s.execOne(ctx,
		`UPDATE users SET totp_last_counter = $2 WHERE user_id = $1`, userID, counter)
}

// SetPreferredMethod describes the setpreferredmethod operation and its observable behavior.
func (s *Store) SetPreferredMethod(ctx context.Context, userID string, method authcore.TwoFactorMethod) error {
	return s.execOne(ctx,
		`UPDATE users SET preferred_method = $2 WHERE user_id = $1`, userID, int16(method))
}

// GetBackupCodes describes the getbackupcodes operation and its observable behavior.
func (s *Store) GetBackupCodes(ctx context.Context, userID string) ([]authcore.BackupCodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code_hash, used FROM backup_codes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("select backup codes: %w", err)
	}
	defer rows.Close()

	var out []authcore.BackupCodeRecord
	for rows.Next() {
		var (
			hash []byte
			used bool
		)
		if err := rows.Scan(&hash, &used); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		out = append(out, authcore.BackupCodeRecord{Hash: hashFromBytes(hash), Used: used})
	}
	return out, rows.Err()
}

// ReplaceBackupCodes swaps the whole code set in one transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []authcore.BackupCodeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (user_id, code_hash, used) VALUES ($1, $2, $3)`,
			userID, hashToBytes(code.Hash), code.Used); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode marks the matching unused code used. The guarded UPDATE
// makes exactly one concurrent caller win.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE backup_codes SET used = TRUE
		WHERE user_id = $1 AND code_hash = $2 AND used = FALSE`,
		userID, hashToBytes(hash))
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
