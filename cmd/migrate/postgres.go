package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresTarget struct {
	pool *pgxpool.Pool
}

func (t *postgresTarget) ensureSchemaMigrationsTable(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum    TEXT,
			applied_by  TEXT
		)
	`)
	return err
}

func (t *postgresTarget) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

// apply runs the migration and its bookkeeping row in one transaction, so a
// failed migration leaves no trace.
func (t *postgresTarget) apply(ctx context.Context, migration Migration, appliedBy string) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Without arguments pgx uses the simple protocol, which accepts
	// several statements in one call.
	if _, err := tx.Exec(ctx, migration.SQL); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, name, checksum, applied_by)
		VALUES ($1, $2, $3, $4)
	`, migration.Version, migration.Name, migration.Checksum, appliedBy); err != nil {
		return fmt.Errorf("recording: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

var _ target = (*postgresTarget)(nil)
