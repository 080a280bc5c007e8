package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

// migrationLockID keys the advisory lock held while a migration is applied.
// The gateway and the watchdog may start against the same database at once.
const migrationLockID int64 = 0x61726775

// Migrate applies all pending SQL migrations from the given filesystem, in name order.
// Each migration runs in its own transaction under an advisory lock, and the
// applied check is repeated after the lock is taken so concurrent starters apply
// every file exactly once.
func (s *PostgresStore) Migrate(ctx context.Context, migrationsFS fs.FS) error {
	if err := s.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}
	sort.Strings(entries)

	for _, filename := range entries {
		applied, err := s.applyMigration(ctx, migrationsFS, filename)
		if err != nil {
			return err
		}
		if applied {
			slog.Info("migration applied", "version", filename)
		} else {
			slog.Debug("migration already applied, skipping", "version", filename)
		}
	}
	return nil
}

// createMigrationsTable creates the tracking table under the advisory lock;
// CREATE TABLE IF NOT EXISTS alone can still collide on the catalog.
func (s *PostgresStore) createMigrationsTable(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// applyMigration runs one file unless it is already recorded. Reports whether it ran.
func (s *PostgresStore) applyMigration(ctx context.Context, migrationsFS fs.FS, filename string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction for %s: %w", filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("locking for %s: %w", filename, err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
		filename,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking migration %s: %w", filename, err)
	}
	if exists {
		return false, nil
	}

	sql, err := fs.ReadFile(migrationsFS, filename)
	if err != nil {
		return false, fmt.Errorf("reading migration %s: %w", filename, err)
	}
	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return false, fmt.Errorf("executing migration %s: %w", filename, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", filename); err != nil {
		return false, fmt.Errorf("recording migration %s: %w", filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing migration %s: %w", filename, err)
	}
	return true, nil
}
