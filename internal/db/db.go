// Package db owns the SQLite connection shared by every sheet operation.
//
// The engine funnels all statements through a single connection. Sequences
// that span several statements on one table are further serialized with
// TableLocks.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
)

// Querier is implemented by *sql.DB, *sql.Tx and *DB.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Options controls how the database is opened.
type Options struct {
	// BusyTimeoutMs is how long SQLite waits on a locked database file
	BusyTimeoutMs int

	// LockStripes is the number of table lock stripes
	LockStripes int
}

// DefaultOptions returns the default open options.
func DefaultOptions() Options {
	return Options{
		BusyTimeoutMs: 5000,
		LockStripes:   64,
	}
}

// DB wraps the single shared SQLite connection.
type DB struct {
	db    *sql.DB
	path  string
	locks *TableLocks
	log   *logrus.Entry
}

// Open opens (creating if needed) the database file at path.
func Open(path string, opts Options) (*DB, error) {
	if opts.BusyTimeoutMs <= 0 {
		opts.BusyTimeoutMs = DefaultOptions().BusyTimeoutMs
	}
	if opts.LockStripes <= 0 {
		opts.LockStripes = DefaultOptions().LockStripes
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("db: failed to create directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, opts.BusyTimeoutMs)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: failed to open database: %w", err)
	}
	// One connection for the whole process; it is never recycled.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: failed to connect to %s: %w", path, err)
	}

	d := &DB{
		db:    sqlDB,
		path:  path,
		locks: NewTableLocks(opts.LockStripes),
		log:   logrus.WithField("component", "db"),
	}
	d.log.WithField("path", path).Info("database opened")
	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// ExecContext executes a statement on the shared connection.
func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the shared connection.
func (d *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the shared connection.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
// Statements inside fn must use tx; the shared connection is held by the
// transaction until it finishes.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return Classify("commit transaction", err)
	}
	return nil
}

// LockTables locks the stripes guarding the given tables and returns the
// unlock function.
func (d *DB) LockTables(tables ...string) func() {
	return d.locks.Lock(tables...)
}

// VacuumInto writes a consistent copy of the database to dest.
func (d *DB) VacuumInto(ctx context.Context, dest string) error {
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return Classify("vacuum into "+dest, err)
	}
	return nil
}

// Classify wraps a driver error in the engine's error taxonomy.
// Busy and locked conditions are retryable operation errors.
func Classify(action string, err error) error {
	if err == nil {
		return nil
	}
	var se *sheeterrors.SheetError
	if errors.As(err, &se) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return sheeterrors.NewBusyError("db: "+action, err)
		}
	}
	return sheeterrors.NewOperationError("db: failed to "+action, err)
}

// IsNoSuchTable reports whether err is SQLite's "no such table" error.
func IsNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
