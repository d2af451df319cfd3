package db

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func withGoose(ctx context.Context, pool *sql.DB, step func(context.Context, *sql.DB, string) error) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return step(ctx, pool, "migrations")
}

// RunMigrations applies every pending migration. A nil pool is a no-op so
// memory-only agents can call it unconditionally.
func RunMigrations(ctx context.Context, pool *sql.DB) error {
	if pool == nil {
		return nil
	}
	return withGoose(ctx, pool, func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// MigrationStatus prints the applied state of each migration.
func MigrationStatus(ctx context.Context, pool *sql.DB) error {
	return withGoose(ctx, pool, func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.StatusContext(ctx, db, dir)
	})
}

// RollbackOne reverts the latest migration.
func RollbackOne(ctx context.Context, pool *sql.DB) error {
	return withGoose(ctx, pool, func(ctx context.Context, db *sql.DB, dir string) error {
		return goose.DownContext(ctx, db, dir)
	})
}
