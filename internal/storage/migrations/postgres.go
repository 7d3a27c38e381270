package migrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"yield-ledger/internal/storage/postgres"
)

// postgresLockKey serializes concurrent migrators on the same database.
const postgresLockKey int64 = 0x79_6c_65_64_67_65_72 // "yledger"

const createPostgresVersions = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies the pending ledger migrations and returns
// the versions it applied. All of them run in one transaction: either the
// whole schema, balance checks included, is in place or none of it is.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	pending, err := load("postgres")
	if err != nil {
		return nil, err
	}
	return applyPostgres(ctx, pool, pending)
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, migrations []Migration) (applied []string, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", postgresLockKey); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	if _, err = tx.Exec(ctx, createPostgresVersions); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var done bool
		err = tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version,
		).Scan(&done)
		if err != nil {
			return nil, fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if done {
			continue
		}

		// No arguments, so pgx sends the file over the simple protocol and
		// multi-statement files are accepted.
		if _, err = tx.Exec(ctx, m.SQL); err != nil {
			return nil, fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if _, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			return nil, fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		applied = append(applied, m.Version)
	}

	if err = tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxCommitRollback) {
			return nil, fmt.Errorf("migration tx rolled back: %w", err)
		}
		return nil, fmt.Errorf("commit migrations: %w", err)
	}
	return applied, nil
}
