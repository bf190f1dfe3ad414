// Package provision creates the warehouse schema if it is absent.
package provision

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/pkordes/bikeshare-etl/migrations"
)

// Provisioner applies the embedded migrations. The migrations only use
// CREATE ... IF NOT EXISTS, and goose records what it applied, so Ensure is
// safe to call on every run.
type Provisioner struct {
	db   *sql.DB
	fsys fs.FS
	log  *slog.Logger
}

// New constructs a Provisioner for db using the embedded migrations.
// Use stdlib.OpenDBFromPool to obtain db from a pgx pool.
func New(db *sql.DB, log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{db: db, fsys: migrations.FS, log: log}
}

// Ensure applies pending migrations and returns how many ran.
func (p *Provisioner) Ensure(ctx context.Context) (int, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, p.db, p.fsys)
	if err != nil {
		return 0, fmt.Errorf("provision.Provisioner.Ensure: create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("provision.Provisioner.Ensure: %w", err)
	}
	for _, r := range results {
		p.log.InfoContext(ctx, "migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration_ms", r.Duration.Milliseconds(),
		)
	}
	if len(results) == 0 {
		p.log.DebugContext(ctx, "schema up to date")
	}
	return len(results), nil
}
