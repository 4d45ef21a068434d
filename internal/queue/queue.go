// Package queue manages the outbound transaction queue: enqueue, size,
// export and purge, plus date-stamped export files that can be re-imported.
//
// The manager performs no validation; callers (the record command) validate
// before enqueueing. Enqueueing an id that is already queued overwrites the
// stored record, so re-submission is idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/cdlta/tracker/internal/schema"
	"github.com/cdlta/tracker/internal/store"
)

// Store is the subset of the local store used by the queue manager.
type Store interface {
	PutTransaction(ctx context.Context, txn *schema.Transaction) error
	PutRecord(ctx context.Context, id string, data []byte) error
	ListRecords(ctx context.Context) ([]*store.Record, error)
	ListTransactions(ctx context.Context) ([]*schema.Transaction, error)
	CountQueue(ctx context.Context) (int, error)
	ClearQueue(ctx context.Context) error
}

// Manager wraps the queue collection.
type Manager struct {
	store  Store
	logger *log.Logger
}

// New returns a queue manager. A nil logger writes to stderr.
func New(st Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Manager{store: st, logger: logger}
}

// Enqueue stores txn keyed by its txn_id.
func (m *Manager) Enqueue(ctx context.Context, txn *schema.Transaction) error {
	if err := m.store.PutTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to enqueue transaction: %w", err)
	}
	return nil
}

// Size returns the number of queued transactions.
func (m *Manager) Size(ctx context.Context) (int, error) {
	n, err := m.store.CountQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// ExportAll returns every queued record exactly as stored, in queue order.
// The queue is not modified.
func (m *Manager) ExportAll(ctx context.Context) ([]json.RawMessage, error) {
	records, err := m.store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export queue: %w", err)
	}
	out := make([]json.RawMessage, len(records))
	for i, rec := range records {
		out[i] = rec.Data
	}
	return out, nil
}

// List returns every queued transaction decoded, in queue order.
func (m *Manager) List(ctx context.Context) ([]*schema.Transaction, error) {
	txns, err := m.store.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return txns, nil
}

// PurgeAll discards every queued transaction. Confirmation is the caller's
// job; this is irreversible.
func (m *Manager) PurgeAll(ctx context.Context) error {
	n, err := m.store.CountQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to count queue: %w", err)
	}
	if err := m.store.ClearQueue(ctx); err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	m.logger.Printf("Purged %d queued transactions", n)
	return nil
}
