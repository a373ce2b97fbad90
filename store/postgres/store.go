// Package postgres implements authcore.Provider on PostgreSQL.
//
// The store uses plain SQL through database/sql with the pgx driver. Schema
// management runs through goose with embedded migrations; call
// [RunMigrations] once at startup before serving traffic.
//
// The conditional writes the engine depends on (single-use token consumption,
// monotonic passkey counters, one-shot backup codes) are expressed as guarded
// UPDATE statements so concurrent callers race inside the database, not in Go.
//
// Token payloads live in a single TEXT column on the tokens table rather
// than per-type satellite tables. Every token type carries at most a short
// opaque value, and the store never queries inside it, so one column keeps
// consumption a single guarded UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/arielzev/authcore/store/postgres/migrations"
)

// Store defines a public type used by authcore APIs.
//
// Store instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for hosts that share the pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close describes the close operation and its observable behavior.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunMigrations applies the embedded schema migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func hashToBytes(hash [32]byte) []byte {
	out := make([]byte, 32)
	copy(out, hash[:])
	return out
}

func hashFromBytes(raw []byte) [32]byte {
	var out [32]byte
	copy(out[:], raw)
	return out
}
