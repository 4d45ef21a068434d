package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cdlta/tracker/internal/schema"
)

// Record is a queued transaction exactly as stored.
type Record struct {
	ID       string
	Data     json.RawMessage
	QueuedAt time.Time
}

// Transaction decodes the stored record.
func (r *Record) Transaction() (*schema.Transaction, error) {
	return schema.UnmarshalTransaction(r.Data)
}

// PutTransaction stores a transaction keyed by its txn_id.
// Writing an existing id overwrites the record and keeps its queue position.
func (db *DB) PutTransaction(ctx context.Context, txn *schema.Transaction) error {
	if txn.ID == "" {
		return fmt.Errorf("txn_id is required")
	}
	data, err := txn.Marshal()
	if err != nil {
		return err
	}
	return db.PutRecord(ctx, txn.ID, data)
}

// PutRecord stores raw transaction JSON under id. The data must be a JSON
// object; it is written verbatim.
func (db *DB) PutRecord(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return fmt.Errorf("txn_id is required")
	}
	if !json.Valid(data) {
		return fmt.Errorf("record %s is not valid JSON", id)
	}

	query := `
	INSERT INTO queue (txn_id, record, queued_at)
	VALUES (?, ?, ?)
	ON CONFLICT(txn_id) DO UPDATE SET
		record = excluded.record
	`
	_, err := db.conn.ExecContext(ctx, query, id, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to queue transaction %s: %w", id, err)
	}
	return nil
}

// GetTransaction returns the queued transaction with the given id or
// ErrNotFound.
func (db *DB) GetTransaction(ctx context.Context, id string) (*schema.Transaction, error) {
	rec, err := db.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Transaction()
}

// GetRecord returns the stored record with the given id or ErrNotFound.
func (db *DB) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT txn_id, record, queued_at FROM queue WHERE txn_id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns every queued record in insertion order.
func (db *DB) ListRecords(ctx context.Context) ([]*Record, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT txn_id, record, queued_at FROM queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return records, nil
}

// ListTransactions returns every queued transaction, decoded, in insertion
// order.
func (db *DB) ListTransactions(ctx context.Context) ([]*schema.Transaction, error) {
	records, err := db.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	txns := make([]*schema.Transaction, 0, len(records))
	for _, rec := range records {
		txn, err := rec.Transaction()
		if err != nil {
			return nil, fmt.Errorf("queued record %s: %w", rec.ID, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// DeleteTransaction removes one queued transaction. Missing ids are not an
// error.
func (db *DB) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM queue WHERE txn_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}
	return nil
}

// DeleteTransactions removes exactly the given ids in one transaction and
// returns how many rows were deleted. Records not named are untouched.
func (db *DB) DeleteTransactions(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	// Chunked to stay well below SQLite's bound-parameter limit.
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		part := ids[start:end]

		args := make([]interface{}, len(part))
		for i, id := range part {
			args[i] = id
		}
		query := `DELETE FROM queue WHERE txn_id IN (?` + strings.Repeat(",?", len(part)-1) + `)`

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete transactions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count deleted transactions: %w", err)
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, nil
}

// ClearQueue removes every queued transaction.
func (db *DB) ClearQueue(ctx context.Context) error {
	return db.Clear(ctx, Queue)
}

// CountQueue returns the number of queued transactions.
func (db *DB) CountQueue(ctx context.Context) (int, error) {
	return db.Count(ctx, Queue)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var data, queuedAt string
	if err := row.Scan(&rec.ID, &data, &queuedAt); err != nil {
		return nil, err
	}
	rec.Data = json.RawMessage(data)
	if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
		rec.QueuedAt = t
	}
	return &rec, nil
}
