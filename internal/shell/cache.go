package shell

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cdlta/tracker/internal/store"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS shell_cache (
	cache_name TEXT NOT NULL,
	url TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL,
	body BLOB NOT NULL,
	stored_at TEXT NOT NULL,
	PRIMARY KEY (cache_name, url)
);
`

// Entry is one cached response.
type Entry struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Cache is the response cache, kept in its own SQLite file and partitioned by
// cache name.
type Cache struct {
	conn *sql.DB
}

// OpenCache opens (creating if needed) the cache database at path.
func OpenCache(ctx context.Context, path string) (*Cache, error) {
	conn, err := store.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, cacheSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &Cache{conn: conn}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	return nil
}

// Get returns the entry for key in cache name, or store.ErrNotFound.
func (c *Cache) Get(ctx context.Context, name, key string) (*Entry, error) {
	var e Entry
	var header string
	err := c.conn.QueryRowContext(ctx,
		`SELECT url, status, header, body FROM shell_cache WHERE cache_name = ? AND url = ?`,
		name, key,
	).Scan(&e.URL, &e.Status, &header, &e.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache entry %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("corrupt cache header for %s: %w", key, err)
	}
	return &e, nil
}

// Put stores one entry in cache name.
func (c *Cache) Put(ctx context.Context, name string, e *Entry) error {
	return c.PutAll(ctx, name, []*Entry{e})
}

// PutAll stores entries in cache name inside one transaction.
func (c *Cache) PutAll(ctx context.Context, name string, entries []*Entry) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO shell_cache (cache_name, url, status, header, body, stored_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(cache_name, url) DO UPDATE SET
		status = excluded.status,
		header = excluded.header,
		body = excluded.body,
		stored_at = excluded.stored_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		header, err := json.Marshal(e.Header)
		if err != nil {
			return fmt.Errorf("failed to encode header for %s: %w", e.URL, err)
		}
		body := e.Body
		if body == nil {
			body = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, name, e.URL, e.Status, string(header), body, now); err != nil {
			return fmt.Errorf("failed to cache %s: %w", e.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Names returns every cache name present.
func (c *Cache) Names(ctx context.Context) ([]string, error) {
	rows, err := c.conn.QueryContext(ctx, `SELECT DISTINCT cache_name FROM shell_cache ORDER BY cache_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan cache name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Count returns how many entries cache name holds.
func (c *Cache) Count(ctx context.Context, name string) (int, error) {
	var n int
	if err := c.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shell_cache WHERE cache_name = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache %s: %w", name, err)
	}
	return n, nil
}

// Delete removes cache name entirely.
func (c *Cache) Delete(ctx context.Context, name string) error {
	if _, err := c.conn.ExecContext(ctx, `DELETE FROM shell_cache WHERE cache_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	return nil
}
