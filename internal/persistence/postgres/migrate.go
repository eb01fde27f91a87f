// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/vault-flow/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x5646515f4d494752 // "VFQ_MIGR"

// ErrMigrationDrift reports an applied migration whose embedded SQL changed.
var ErrMigrationDrift = errors.New("applied migration does not match embedded file")

var requiredColumns = map[string][]string{
	"kv_items": {"key", "value", "updated_at"},
}

type appliedMigration struct {
	Name     string
	Checksum string
}

type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies pending embedded migrations under a session advisory
// lock, so concurrent api and worker starts serialise on it.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, unlockErr := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); unlockErr != nil {
			logger.Error("migration unlock failed", "error", unlockErr)
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vaultflow_schema_migrations (
			version    INTEGER PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := embeddedmigrations.Ordered(embeddedmigrations.Postgres)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}

	pending := 0
	for _, f := range files {
		if prev, ok := applied[f.Version]; ok {
			if prev.Checksum != f.Checksum {
				return fmt.Errorf("%w: version %d (%s)", ErrMigrationDrift, f.Version, prev.Name)
			}
			continue
		}

		logger.Info("applying migration", "version", f.Version, "file", f.Name)
		if err := applyMigration(ctx, conn, f); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
		pending++
	}

	logger.Info("schema ready",
		"applied", pending,
		"total", len(files),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func loadApplied(ctx context.Context, conn *pgxpool.Conn) (map[int]appliedMigration, error) {
	rows, err := conn.Query(ctx, `SELECT version, filename, checksum FROM vaultflow_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]appliedMigration)
	for rows.Next() {
		var (
			version int
			m       appliedMigration
		)
		if err := rows.Scan(&version, &m.Name, &m.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[version] = m
	}
	return out, rows.Err()
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, f embeddedmigrations.File) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, f.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO vaultflow_schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
		f.Version, f.Name, f.Checksum,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SchemaReady reports missing tables or columns the kv store depends on.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	var missing []string
	for table, columns := range requiredColumns {
		rows, err := pool.Query(ctx, `
			SELECT column_name
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = $1
		`, table)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		present, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}

		have := make(map[string]bool, len(present))
		for _, c := range present {
			have[c] = true
		}
		for _, c := range columns {
			if !have[c] {
				missing = append(missing, table+"."+c)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}
