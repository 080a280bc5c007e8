// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup, shared helpers and user queries.
// Creates a connection pool at startup, shared across all services.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// pgSerializationFailure is the SQLSTATE Postgres raises when a SERIALIZABLE
// transaction loses to a concurrent one. The whole transaction must be rerun.
const pgSerializationFailure = "40001"

// serializableAttempts bounds how often inSerializableTx reruns fn.
const serializableAttempts = 3

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool, pings it, and returns a ready-to-use store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure
}

// inSerializableTx runs fn inside a SERIALIZABLE transaction, committing on nil
// and rolling back otherwise. A serialization failure reruns fn from scratch, so
// the loser of a race sees the winner's committed rows and fails on them instead.
func (s *PostgresStore) inSerializableTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= serializableAttempts; attempt++ {
		err = s.serializableOnce(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		slog.Debug("serializable transaction conflict, retrying", "attempt", attempt)
	}
	return err
}

func (s *PostgresStore) serializableOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// UserDetails fetches the public identity and language of a user.
// Returns ErrNotFound if the user has no details row.
func (s *PostgresStore) UserDetails(ctx context.Context, username string) (*model.UserDetails, error) {
	var u model.UserDetails
	var language string
	err := s.pool.QueryRow(ctx, `
		SELECT ud.username, ud.first_name, ud.last_name, u.email, u.phone_number, ud.picture, ud.language
		FROM users u
		INNER JOIN user_details ud ON ud.username = u.username
		WHERE u.username = $1
	`, username).Scan(&u.Username, &u.FirstName, &u.LastName, &u.Email, &u.PhoneNumber, &u.Picture, &language)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user details: %w", err)
	}
	u.Language = &language
	return &u, nil
}

// PublicKey fetches the public key registered for username.
// Returns ErrNotFound if none is registered.
func (s *PostgresStore) PublicKey(ctx context.Context, username string) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		"SELECT public_key FROM users_identity WHERE username = $1",
		username).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetching public key: %w", err)
	}
	return key, nil
}
