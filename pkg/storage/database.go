// Package storage is the sqlite persistence layer of the engine: protocol
// instances, identities, the outbox and attachment chunks, all written through
// one transactional unit of work.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/obverr"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrTransactionDone        = errors.New("transaction already finished")
)

// Config configures a Database
type Config struct {
	Path   string
	Logger *logrus.Logger
	// Migrations defaults to EngineMigrations
	Migrations []Migration
	// RequiredTables are checked after migrations
	RequiredTables []string
}

// Database wraps a sqlite database opened in WAL mode. Write transactions are
// started with BEGIN IMMEDIATE so there is at most one writer.
type Database struct {
	db     *sql.DB
	path   string
	logger *logrus.Logger
}

// Open opens (creating if needed) the database and runs pending migrations
func Open(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Migrations == nil {
		cfg.Migrations = EngineMigrations
		if cfg.RequiredTables == nil {
			cfg.RequiredTables = []string{"protocol_instances", "owned_identities", "contacts", "outbox", "attachment_chunks"}
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, obverr.IO("open_database", cfg.Path, err)
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, obverr.IO("open_database", cfg.Path, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, obverr.IO("open_database", cfg.Path, fmt.Errorf("failed to enable WAL mode: %w", err))
	}

	needsMigration, current, target, err := NeedsMigration(db, cfg.Migrations)
	if err != nil {
		db.Close()
		return nil, obverr.IO("open_database", cfg.Path, err)
	}
	if needsMigration {
		cfg.Logger.WithFields(logrus.Fields{
			"path": cfg.Path,
			"from": current,
			"to":   target,
		}).Info("Database migration needed")

		if err := RunMigrations(ctx, db, cfg.Migrations, cfg.Logger); err != nil {
			db.Close()
			return nil, obverr.IO("migrate_database", cfg.Path, err)
		}
	}
	if err := ValidateSchema(db, cfg.Migrations, cfg.RequiredTables); err != nil {
		db.Close()
		return nil, obverr.IO("validate_schema", cfg.Path, err)
	}

	return &Database{db: db, path: cfg.Path, logger: cfg.Logger}, nil
}

// PerformAndWait runs fn inside one write transaction. fn's error rolls the
// transaction back; on commit the registered commit hooks run in order.
func (d *Database) PerformAndWait(ctx context.Context, fn func(oc *ObvContext) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return obverr.IO("begin", d.path, err)
	}

	oc := &ObvContext{ctx: ctx, tx: tx}
	if err := fn(oc); err != nil {
		oc.done = true
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.WithError(rbErr).Warn("Rollback failed")
		}
		return err
	}

	oc.done = true
	if err := tx.Commit(); err != nil {
		return obverr.IO("commit", d.path, err)
	}

	for _, hook := range oc.commitHooks {
		hook()
	}
	return nil
}

// SQL returns the underlying handle for read-only queries outside a unit of work
func (d *Database) SQL() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// ObvContext is a unit of work: every read and write made through it belongs to
// one transaction that commits or rolls back as a whole
type ObvContext struct {
	ctx         context.Context
	tx          *sql.Tx
	commitHooks []func()
	done        bool
}

// Context returns the context the unit of work was started with
func (oc *ObvContext) Context() context.Context {
	return oc.ctx
}

// AddCommitHook registers fn to run after a successful commit
func (oc *ObvContext) AddCommitHook(fn func()) {
	oc.commitHooks = append(oc.commitHooks, fn)
}

func (oc *ObvContext) exec(query string, args ...interface{}) (sql.Result, error) {
	if oc.done {
		return nil, ErrTransactionDone
	}
	return oc.tx.ExecContext(oc.ctx, query, args...)
}

func (oc *ObvContext) queryRow(query string, args ...interface{}) *sql.Row {
	return oc.tx.QueryRowContext(oc.ctx, query, args...)
}

func (oc *ObvContext) query(query string, args ...interface{}) (*sql.Rows, error) {
	if oc.done {
		return nil, ErrTransactionDone
	}
	return oc.tx.QueryContext(oc.ctx, query, args...)
}

func notFound(op, what string) error {
	return obverr.New(obverr.KindNotFound, op, fmt.Errorf("%w: %s", ErrNotFound, what))
}
