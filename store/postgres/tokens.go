package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arielzev/authcore"
)

// CreateToken describes the createtoken operation and its observable behavior.
func (s *Store) CreateToken(ctx context.Context, record authcore.TokenRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, token_type, user_id, secret_hash, payload,
			created_at, expires_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, string(record.Type), record.UserID, hashToBytes(record.SecretHash),
		record.Payload, record.CreatedAt, record.ExpiresAt, record.ConsumedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetTokenByHash describes the gettokenbyhash operation and its observable behavior.
func (s *Store) GetTokenByHash(ctx context.Context, tokenType authcore.TokenType, hash [32]byte) (authcore.TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token_type, user_id, secret_hash, payload, created_at, expires_at, consumed_at
		FROM tokens WHERE token_type = $1 AND secret_hash = $2`,
		string(tokenType), hashToBytes(hash))

	var (
		record     authcore.TokenRecord
		typeName   string
		secretHash []byte
		consumedAt sql.NullTime
	)
	err := row.Scan(&record.ID, &typeName, &record.UserID, &secretHash,
		&record.Payload, &record.CreatedAt, &record.ExpiresAt, &consumedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.TokenRecord{}, ErrNotFound
		}
		return authcore.TokenRecord{}, fmt.Errorf("scan token: %w", err)
	}
	record.Type = authcore.TokenType(typeName)
	record.SecretHash = hashFromBytes(secretHash)
	if consumedAt.Valid {
		record.ConsumedAt = &consumedAt.Time
	}
	return record, nil
}

// ConsumeToken sets the consumption time only when the token is still unused,
// so exactly one concurrent caller wins.
func (s *Store) ConsumeToken(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL`,
		tokenID, at)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteTokensForUser describes the deletetokensforuser operation and its observable behavior.
func (s *Store) DeleteTokensForUser(ctx context.Context, userID string, tokenType authcore.TokenType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = $1 AND token_type = $2`,
		userID, string(tokenType))
	if err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}

// DeleteExpiredTokens describes the deleteexpiredtokens operation and its observable behavior.
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}
