// Package store provides the local persistent store for the offline tracker.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3, WAL mode)
// holding three independent collections:
//   - students: reference entities keyed by student_id
//   - queue: outbound transactions keyed by txn_id, in insertion order
//   - meta: scalar settings and one-time flags keyed by name
//
// Every operation touches exactly one collection and runs as one statement or
// one transaction, so concurrent callers only ever observe committed records.
// Storage failures are always returned; nothing is swallowed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by Get operations when the key does not exist.
var ErrNotFound = errors.New("not found")

// Collection names a store collection.
type Collection string

const (
	Students Collection = "students"
	Queue    Collection = "queue"
	Meta     Collection = "meta"
)

// migrations are applied in order, once each, and tracked with
// PRAGMA user_version. Entries are additive only.
var migrations = []string{
	// v1: initial collections
	`
	CREATE TABLE IF NOT EXISTS students (
		student_id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'Active'
	);
	CREATE INDEX IF NOT EXISTS idx_students_full_name ON students(full_name);

	CREATE TABLE IF NOT EXISTS queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		txn_id TEXT NOT NULL UNIQUE,
		record TEXT NOT NULL,  -- exact JSON as uploaded
		queued_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
}

// CurrentSchemaVersion is the schema version written by this build.
var CurrentSchemaVersion = len(migrations)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the store at path and applies pending
// migrations.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(home, "tracker.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*DB, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*DB, error) {
	conn, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn, path: strings.TrimPrefix(path, "file:")}
	if err := db.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a pooled SQLite connection with WAL, a busy timeout and
// immediate write transactions applied to every connection in the pool.
// It is shared with other packages that keep their own database file.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	file := strings.TrimPrefix(path, "file:")
	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + file +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return conn, nil
}

// migrate brings the schema up to CurrentSchemaVersion.
func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the schema version recorded in the database file.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Count returns the number of records in a collection.
func (db *DB) Count(ctx context.Context, c Collection) (int, error) {
	table, err := c.table()
	if err != nil {
		return 0, err
	}
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c, err)
	}
	return count, nil
}

// Clear deletes every record in a collection.
func (db *DB) Clear(ctx context.Context, c Collection) error {
	table, err := c.table()
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c, err)
	}
	return nil
}

func (c Collection) table() (string, error) {
	switch c {
	case Students, Queue, Meta:
		return string(c), nil
	default:
		return "", fmt.Errorf("unknown collection %q", c)
	}
}
