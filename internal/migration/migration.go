package migration

import (
	"context"

	"llpaccept/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the cache and results schema
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in order. Every statement is
// idempotent so the runner is safe on an existing database.
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createDecayCacheTables(ctx, db); err != nil {
		return errors.DatabaseError("failed to create decay cache tables", err)
	}

	if err := r.createRunsTable(ctx, db); err != nil {
		return errors.DatabaseError("failed to create runs table", err)
	}

	if err := r.createMassResultsTable(ctx, db); err != nil {
		return errors.DatabaseError("failed to create mass_results table", err)
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.DatabaseError("failed to create indexes", err)
	}

	if err := r.recordVersion(ctx, db); err != nil {
		return errors.DatabaseError("failed to record schema version", err)
	}

	return nil
}

func (r *MigrationRunner) createDecayCacheTables(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decay_cache_entries (
			cache_key  TEXT PRIMARY KEY,
			n_samples  INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decay_samples (
			cache_key       TEXT NOT NULL,
			row_idx         INTEGER NOT NULL,
			decay_u         REAL NOT NULL,
			directions_json TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (cache_key, row_idx)
		)
	`)
	return err
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			flavour        TEXT NOT NULL,
			geometry_tag   TEXT NOT NULL,
			selection_json TEXT NOT NULL DEFAULT '{}',
			lumi_fb        REAL NOT NULL,
			threshold      REAL NOT NULL,
			started_at     INTEGER NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createMassResultsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS mass_results (
			run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			mass_gev    REAL NOT NULL,
			peak_events REAL NOT NULL DEFAULT 0,
			is_excluded INTEGER NOT NULL DEFAULT 0,
			result_json TEXT NOT NULL,
			PRIMARY KEY (run_id, mass_gev)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_mass_results_run ON mass_results(run_id, mass_gev)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_flavour ON runs(flavour, started_at)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)`, r.version)
	return err
}
