// Package store provides the audited dataset's storage layer: a SQLite
// database, a mutable unit-of-work Session over it, and the ReadOnlySession
// boundary handed to analysis units.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"auditkit/internal/logging"

	_ "modernc.org/sqlite"
)

// Schema initializes tables. Callers pass the dataset's own initializer to Open
// so this package stays independent of any particular ledger layout.
type Schema func(ctx context.Context, db *sql.DB) error

// DB is the single shared connection pool to the audited dataset.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the SQLite database at path and runs every
// schema initializer followed by the column migrations.
func Open(ctx context.Context, path string, schemas ...Schema) (*DB, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	logging.Store("Opening ledger database at %s", path)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, schema := range schemas {
		if err := schema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db, path: path}, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// SQL exposes the underlying pool for schema code and tests.
func (d *DB) SQL() *sql.DB { return d.db }

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Session starts a mutable unit-of-work on a dedicated connection.
func (d *DB) Session(ctx context.Context) (*SQLSession, error) {
	return d.newSession(ctx, false)
}

// ReadOnly starts a session for analysis code. The connection is switched to
// query_only for the session's lifetime and the result is wrapped in the
// ReadOnlySession boundary.
func (d *DB) ReadOnly(ctx context.Context) (*ReadOnlySession, error) {
	s, err := d.newSession(ctx, true)
	if err != nil {
		return nil, err
	}
	return NewReadOnly(s), nil
}

func (d *DB) newSession(ctx context.Context, queryOnly bool) (*SQLSession, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if queryOnly {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable query_only: %w", err)
		}
	}
	logging.SessionDebug("Session opened (query_only=%v)", queryOnly)
	return &SQLSession{conn: conn, queryOnly: queryOnly, autoFlush: true}, nil
}

// ErrClosed is returned by any operation on a closed session.
var ErrClosed = errors.New("session is closed")
