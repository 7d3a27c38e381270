package migrations

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	chstore "yield-ledger/internal/storage/clickhouse"
)

const createClickhouseVersions = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    String,
    applied_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree()
ORDER BY version`

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RunClickhouseMigrations creates the database named in dsn if needed,
// applies the pending price history migrations and returns the store bound
// to it along with the versions applied. ClickHouse has no transactions, so
// each statement is idempotent and a version is recorded only after all of
// its statements succeed.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.PriceHistoryStore, []string, error) {
	dbName, err := targetDatabase(dsn)
	if err != nil {
		return nil, nil, err
	}
	pending, err := load("clickhouse")
	if err != nil {
		return nil, nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+dbName+"`")
	_ = admin.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConn(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse %s: %w", dbName, err)
	}
	applied, err := applyClickhouse(ctx, conn, pending)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return chstore.NewPriceHistoryStore(conn), applied, nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn, migrations []Migration) ([]string, error) {
	if err := conn.Exec(ctx, createClickhouseVersions); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range migrations {
		var n uint64
		if err := conn.QueryRow(ctx,
			"SELECT count() FROM schema_migrations FINAL WHERE version = ?", m.Version,
		).Scan(&n); err != nil {
			return nil, fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if n > 0 {
			continue
		}

		stmts, err := splitStatements(m.SQL)
		if err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", m.Version, err)
		}
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
		}
		if err := conn.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			return nil, fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// splitStatements breaks a migration into single statements, since the
// driver executes one per call. Semicolons inside quoted literals and
// anything after -- on a line are not separators.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts   []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inQuote:
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(sql) {
				i++
				cur.WriteByte(sql[i])
			} else if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
			cur.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}

// targetDatabase returns the database named in the dsn path. It is spliced
// into CREATE DATABASE, so only plain identifiers are accepted.
func targetDatabase(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn names no database")
	}
	if !identifierRe.MatchString(db) {
		return "", fmt.Errorf("clickhouse database %q is not a plain identifier", db)
	}
	return db, nil
}
