package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExportFileName returns the export file name for the given day,
// e.g. cdlta_queue_2026-10-14.json.
func ExportFileName(now time.Time) string {
	return "cdlta_queue_" + now.UTC().Format("2006-01-02") + ".json"
}

// MarshalExport renders records as a 2-space indented JSON array.
func MarshalExport(records []json.RawMessage) ([]byte, error) {
	if records == nil {
		records = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteExport writes the current queue to dir and returns the file path.
// The file is written atomically via a temp file.
func (m *Manager) WriteExport(ctx context.Context, dir string, now time.Time) (string, error) {
	records, err := m.ExportAll(ctx)
	if err != nil {
		return "", err
	}
	data, err := MarshalExport(records)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, ExportFileName(now))

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	m.logger.Printf("Exported %d queued transactions to %s", len(records), path)
	return path, nil
}

// ReadExport parses an export file into its records.
func ReadExport(path string) ([]json.RawMessage, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export file: %w", err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("invalid export file %s: %w", path, err)
	}
	return records, nil
}

// Import re-enqueues every record of an export file and returns how many were
// stored. Records already queued are overwritten, so importing twice is
// harmless. Each record is stored compacted but otherwise unchanged.
func (m *Manager) Import(ctx context.Context, path string) (int, error) {
	records, err := ReadExport(path)
	if err != nil {
		return 0, err
	}

	type keyed struct {
		ID string `json:"txn_id"`
	}

	n := 0
	for i, raw := range records {
		var k keyed
		if err := json.Unmarshal(raw, &k); err != nil {
			return n, fmt.Errorf("record %d: %w", i, err)
		}
		if k.ID == "" {
			return n, fmt.Errorf("record %d has no txn_id", i)
		}

		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return n, fmt.Errorf("record %d: %w", i, err)
		}
		if err := m.store.PutRecord(ctx, k.ID, buf.Bytes()); err != nil {
			return n, fmt.Errorf("failed to import record %s: %w", k.ID, err)
		}
		n++
	}

	m.logger.Printf("Imported %d transactions from %s", n, path)
	return n, nil
}
