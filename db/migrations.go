package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus reports whether a known migration has been applied
type MigrationStatus struct {
	Version int
	Name    string
	Applied bool
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_source_queue_table",
		Up: `
			CREATE TABLE IF NOT EXISTS source_queue (
				id TEXT PRIMARY KEY,
				source_url TEXT NOT NULL,
				product_id TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				processed_url TEXT,
				error TEXT,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW(),
				completed_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_source_queue_status ON source_queue(status);
			CREATE INDEX IF NOT EXISTS idx_source_queue_created_at ON source_queue(created_at);
			CREATE INDEX IF NOT EXISTS idx_source_queue_product_id ON source_queue(product_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_source_queue_product_id;
			DROP INDEX IF EXISTS idx_source_queue_created_at;
			DROP INDEX IF EXISTS idx_source_queue_status;
			DROP TABLE IF EXISTS source_queue;
		`,
	},
	{
		Version: 2,
		Name:    "create_image_hashes_table",
		Up: `
			CREATE TABLE IF NOT EXISTS image_hashes (
				hash TEXT PRIMARY KEY,
				product_id TEXT,
				width INTEGER,
				height INTEGER,
				file_size_bytes BIGINT,
				content_type TEXT,
				exif_data TEXT,
				created_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_image_hashes_product_id ON image_hashes(product_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_image_hashes_product_id;
			DROP TABLE IF EXISTS image_hashes;
		`,
	},
	{
		Version: 3,
		Name:    "add_image_columns_to_products",
		// The products table is owned by the catalog service in production;
		// the CREATE here gives dev and test databases a usable shape.
		Up: `
			CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL DEFAULT '',
				published BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			ALTER TABLE products ADD COLUMN IF NOT EXISTS images TEXT;
			ALTER TABLE products ADD COLUMN IF NOT EXISTS image_confidence TEXT NOT NULL DEFAULT 'unknown';
			ALTER TABLE products ADD COLUMN IF NOT EXISTS image_approved BOOLEAN;
			ALTER TABLE products ADD COLUMN IF NOT EXISTS image_review_notes TEXT;
			CREATE INDEX IF NOT EXISTS idx_products_published ON products(published);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_products_published;
			ALTER TABLE products DROP COLUMN IF EXISTS image_review_notes;
			ALTER TABLE products DROP COLUMN IF EXISTS image_approved;
			ALTER TABLE products DROP COLUMN IF EXISTS image_confidence;
			ALTER TABLE products DROP COLUMN IF EXISTS images;
		`,
	},
}

// Migrate runs all pending migrations
func Migrate(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	slog.Default().Info("current schema version", "version", currentVersion)

	// Sort migrations by version
	sortedMigrations := make([]Migration, len(migrations))
	copy(sortedMigrations, migrations)
	sort.Slice(sortedMigrations, func(i, j int) bool {
		return sortedMigrations[i].Version < sortedMigrations[j].Version
	})

	for _, m := range sortedMigrations {
		if m.Version <= currentVersion {
			slog.Default().Debug("skipping migration (already applied)", "version", m.Version)
			continue
		}

		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the sourcer_schema_version table if it doesn't exist
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sourcer_schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// getCurrentVersion returns the current migration version
func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM sourcer_schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigration executes a single migration inside a transaction
func runMigration(db *sql.DB, m Migration) error {
	slog.Default().Info("applying migration", "version", m.Version, "name", m.Name)

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO sourcer_schema_version (version, name) VALUES ($1, $2)",
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	slog.Default().Info("migration applied successfully", "version", m.Version, "name", m.Name)
	return nil
}

// Rollback rolls back the last migration
func Rollback(db *sql.DB) error {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var targetMigration *Migration
	for _, m := range migrations {
		if m.Version == currentVersion {
			targetMigration = &m
			break
		}
	}

	if targetMigration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(targetMigration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM sourcer_schema_version WHERE version = $1", currentVersion); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}

// GetMigrationStatus returns the current migration status
func GetMigrationStatus(db *sql.DB) ([]MigrationStatus, error) {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return nil, err
	}

	var status []MigrationStatus
	for _, m := range migrations {
		status = append(status, MigrationStatus{
			Version: m.Version,
			Name:    m.Name,
			Applied: m.Version <= currentVersion,
		})
	}

	sort.Slice(status, func(i, j int) bool {
		return status[i].Version < status[j].Version
	})

	return status, nil
}
