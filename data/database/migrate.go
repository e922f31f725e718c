package database

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"PPresence/logger"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrations returns the embedded schema files in apply order.
func Migrations() ([]string, error) {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies every embedded schema file not yet recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) (applied []string, err error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return nil, errs.WrapMsg(err, "create schema_migrations")
	}

	names, err := Migrations()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		version := strings.TrimPrefix(name, "schema/")

		var exists bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, version).Scan(&exists); err != nil {
			return applied, errs.WrapMsg(err, "check migration", "name", version)
		}
		if exists {
			continue
		}

		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return applied, err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, errs.WrapMsg(err, "begin migration", "name", version)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return applied, errs.WrapMsg(err, "apply migration", "name", version)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()
			return applied, errs.WrapMsg(err, "record migration", "name", version)
		}
		if err := tx.Commit(); err != nil {
			return applied, errs.WrapMsg(err, "commit migration", "name", version)
		}
		logger.Info("migration applied", zap.String("name", version))
		applied = append(applied, version)
	}
	return applied, nil
}
