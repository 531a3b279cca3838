// Package migrator applies the embedded goose migrations for the control
// plane tables (cp_event, cp_mode).
package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ghuser/entitlements/pkg/logger"
)

// Run applies all pending migrations from files against dsn and logs each
// applied version. Migrations are SQL files at the root of files.
func Run(ctx context.Context, dsn string, files fs.FS, log logger.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	provider, err := goose.NewProvider(goose.DialectPostgres, db, files)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	for _, r := range results {
		if r.Error != nil {
			log.ErrorContext(ctx, "migration failed", "version", r.Source.Version, "path", r.Source.Path, "error", r.Error)
			continue
		}
		log.InfoContext(ctx, "migration applied", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.InfoContext(ctx, "schema up to date", "version", version, "applied", len(results))
	return nil
}
