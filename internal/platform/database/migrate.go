package database

import (
	"context"
	"database/sql"
	"fmt"

	"bookmarks/migrations"
)

// migrationLockID serialises concurrent migrators (several replicas starting
// at once) through a transaction-scoped advisory lock.
const migrationLockID = 0x626f6f6b // "book"

// Migrate applies the forward migrations not yet recorded in
// schema_migrations and returns the versions it applied. Everything runs in
// one transaction, so a failing file leaves the schema untouched.
func Migrate(ctx context.Context, db *sql.DB, files []migrations.File) ([]string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, f := range files {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, f.Version,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check migration %s: %w", f.Version, err)
		}
		if exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, f.SQL); err != nil {
			return nil, fmt.Errorf("apply migration %s: %w", f.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, f.Version); err != nil {
			return nil, fmt.Errorf("record migration %s: %w", f.Version, err)
		}
		applied = append(applied, f.Version)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit migrations: %w", err)
	}
	return applied, nil
}
