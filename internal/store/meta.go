package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Meta keys used by the tracker.
const (
	MetaDeviceID          = "device_id"
	MetaStudentsRefreshed = "students_refreshed_once"
)

// PutMeta stores a scalar value under key.
func (db *DB) PutMeta(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("meta key is required")
	}
	query := `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := db.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to put meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns the value stored under key or ErrNotFound.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

// DeleteMeta removes key. Missing keys are not an error.
func (db *DB) DeleteMeta(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete meta %s: %w", key, err)
	}
	return nil
}

// ClearMeta removes every meta record.
func (db *DB) ClearMeta(ctx context.Context) error {
	return db.Clear(ctx, Meta)
}
