package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// MigrationFunc is a function that performs a schema migration
type MigrationFunc func(tx *sql.Tx) error

// Migration represents a single database migration
type Migration struct {
	Version     int
	Description string
	Up          MigrationFunc
}

// EngineMigrations is the schema of the engine database, in order
var EngineMigrations = []Migration{
	{
		Version:     1,
		Description: "Protocol instances and identities",
		Up:          engineMigration1Up,
	},
	{
		Version:     2,
		Description: "Outbox and attachment chunks",
		Up:          engineMigration2Up,
	},
}

const schemaVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at INTEGER NOT NULL,
		comment TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_schema_version ON schema_version(version);
`

// GetSchemaVersion returns the current schema version from the database
func GetSchemaVersion(db *sql.DB) (int, error) {
	// Check if schema_version table exists
	query := `SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'`
	var tableName string
	err := db.QueryRow(query).Scan(&tableName)
	if err == sql.ErrNoRows {
		// No schema_version table = version 0 (needs initialization)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return int(version.Int64), nil
}

func targetVersion(migrations []Migration) int {
	target := 0
	for _, m := range migrations {
		if m.Version > target {
			target = m.Version
		}
	}
	return target
}

// NeedsMigration checks if the database needs migration
func NeedsMigration(db *sql.DB, migrations []Migration) (bool, int, int, error) {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return false, 0, 0, err
	}

	target := targetVersion(migrations)
	return currentVersion < target, currentVersion, target, nil
}

// RunMigrations runs all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, migrations []Migration, logger *logrus.Logger) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	target := targetVersion(migrations)

	if currentVersion > target {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d) - please upgrade software",
			currentVersion, target)
	}
	if currentVersion == target {
		logger.WithField("version", currentVersion).Debug("Database is up to date")
		return nil
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			// Already applied
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", migration.Version, err)
		}
		if err := migration.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at, comment) VALUES (?, ?, ?)`,
			migration.Version, time.Now().Unix(), migration.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", migration.Version, err)
		}
	}

	return nil
}

// ValidateSchema checks the schema version and that the required tables exist
func ValidateSchema(db *sql.DB, migrations []Migration, requiredTables []string) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	if target := targetVersion(migrations); version != target {
		return fmt.Errorf("schema version %d does not match expected %d", version, target)
	}

	for _, table := range append([]string{"schema_version"}, requiredTables...) {
		query := `SELECT name FROM sqlite_master WHERE type='table' AND name=?`
		var tableName string
		err := db.QueryRow(query, table).Scan(&tableName)
		if err == sql.ErrNoRows {
			return fmt.Errorf("required table missing: %s", table)
		}
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
	}

	return nil
}

// ========================================
// Migration Definitions
// ========================================

func engineMigration1Up(tx *sql.Tx) error {
	schema := `
		CREATE TABLE IF NOT EXISTS protocol_instances (
			owned_identity BLOB NOT NULL,
			protocol_id INTEGER NOT NULL,
			instance_uid BLOB NOT NULL,
			state_id INTEGER NOT NULL,
			state BLOB NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (owned_identity, protocol_id, instance_uid)
		);

		CREATE TABLE IF NOT EXISTS owned_identities (
			identity BLOB PRIMARY KEY,
			encoded BLOB NOT NULL,
			details BLOB,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS contacts (
			owned_identity BLOB NOT NULL,
			identity BLOB NOT NULL,
			details BLOB,
			origin TEXT NOT NULL,
			photo BLOB,
			photo_label BLOB,
			added_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (owned_identity, identity),
			FOREIGN KEY (owned_identity) REFERENCES owned_identities(identity)
		);
	`
	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("failed to create identity schema: %w", err)
	}
	return nil
}

func engineMigration2Up(tx *sql.Tx) error {
	schema := `
		CREATE TABLE IF NOT EXISTS outbox (
			id TEXT PRIMARY KEY,
			owned_identity BLOB NOT NULL,
			channel_kind INTEGER NOT NULL,
			channel BLOB NOT NULL,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			sent_at INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at, created_at);

		CREATE TABLE IF NOT EXISTS attachment_chunks (
			attachment_id BLOB NOT NULL,
			chunk_index INTEGER NOT NULL,
			data BLOB NOT NULL,
			digest BLOB NOT NULL,
			stored_at INTEGER NOT NULL,
			size INTEGER NOT NULL,
			PRIMARY KEY (attachment_id, chunk_index)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_stored_at ON attachment_chunks(stored_at);
	`
	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("failed to create outbox schema: %w", err)
	}
	return nil
}
