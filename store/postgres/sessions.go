package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arielzev/authcore"
)

const sessionColumns = `session_id, user_id, token_hash, device, browser, os,
	ip, location, created_at, last_activity_at, expires_at, absolute_expires_at,
	last_auth_at, step_up_auth_at, revoked, revoked_reason, revoked_at`

func scanSession(scan func(dest ...any) error) (authcore.SessionRecord, error) {
	var (
		record       authcore.SessionRecord
		tokenHash    []byte
		stepUpAuthAt sql.NullTime
		revokedAt    sql.NullTime
	)
	err := scan(
		&record.SessionID, &record.UserID, &tokenHash, &record.Device, &record.Browser,
		&record.OS, &record.IP, &record.Location, &record.CreatedAt, &record.LastActivityAt,
		&record.ExpiresAt, &record.AbsoluteExpiresAt, &record.LastAuthAt, &stepUpAuthAt,
		&record.Revoked, &record.RevokedReason, &revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.SessionRecord{}, ErrNotFound
		}
		return authcore.SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}
	record.TokenHash = hashFromBytes(tokenHash)
	if stepUpAuthAt.Valid {
		record.StepUpAuthAt = stepUpAuthAt.Time
	}
	if revokedAt.Valid {
		record.RevokedAt = &revokedAt.Time
	}
	return record, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// CreateSession describes the createsession operation and its observable behavior.
func (s *Store) CreateSession(ctx context.Context, record authcore.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (session_id, user_id, token_hash, device,
			browser, os, ip, location, created_at, last_activity_at, expires_at,
			absolute_expires_at, last_auth_at, step_up_auth_at, revoked,
			revoked_reason, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		record.SessionID, record.UserID, hashToBytes(record.TokenHash), record.Device,
		record.Browser, record.OS, record.IP, record.Location, record.CreatedAt,
		record.LastActivityAt, record.ExpiresAt, record.AbsoluteExpiresAt,
		record.LastAuthAt, nullableTime(record.StepUpAuthAt), record.Revoked,
		record.RevokedReason, record.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession describes the getsession operation and its observable behavior.
func (s *Store) GetSession(ctx context.Context, sessionID string) (authcore.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE session_id = $1`, sessionID)
	return scanSession(row.Scan)
}

// GetSessionByTokenHash describes the getsessionbytokenhash operation and its observable behavior.
func (s *Store) GetSessionByTokenHash(ctx context.Context, hash [32]byte) (authcore.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE token_hash = $1`, hashToBytes(hash))
	return scanSession(row.Scan)
}

// TouchSession updates activity and the sliding expiry; the absolute expiry
// column is deliberately absent from the statement.
func (s *Store) TouchSession(ctx context.Context, sessionID string, lastActivity, slidingExpiry time.Time) error {
	return s.execOne(ctx, `
		UPDATE user_sessions SET last_activity_at = $2, expires_at = $3
		WHERE session_id = $1`,
		sessionID, lastActivity, slidingExpiry)
}

// UpdateSessionAuthTimes describes the updatesessionauthtimes operation and its observable behavior.
func (s *Store) UpdateSessionAuthTimes(ctx context.Context, sessionID string, lastAuthAt, stepUpAuthAt time.Time) error {
	return s.execOne(ctx, `
		UPDATE user_sessions SET last_auth_at = $2, step_up_auth_at = $3
		WHERE session_id = $1`,
		sessionID, lastAuthAt, nullableTime(stepUpAuthAt))
}

// RevokeSession describes the revokesession operation and its observable behavior.
func (s *Store) RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) error {
	return s.execOne(ctx, `
		UPDATE user_sessions SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE session_id = $1`,
		sessionID, reason, at)
}

// RevokeSessionsForUser describes the revokesessionsforuser operation and its observable behavior.
func (s *Store) RevokeSessionsForUser(ctx context.Context, userID, exceptSessionID, reason string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions SET revoked = TRUE, revoked_reason = $3, revoked_at = $4
		WHERE user_id = $1 AND session_id <> $2 AND revoked = FALSE`,
		userID, exceptSessionID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return result.RowsAffected()
}

// ListSessions describes the listsessions operation and its observable behavior.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]authcore.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	var out []authcore.SessionRecord
	for rows.Next() {
		record, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// DeleteExpiredSessions describes the deleteexpiredsessions operation and its observable behavior.
func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE absolute_expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
