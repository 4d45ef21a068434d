// Package identity assigns the device and transaction identifiers that make
// re-submission safe.
//
// The device id is generated once per installation, persisted in the meta
// collection and held in memory for the rest of the process. Transaction ids
// are random UUIDs (122 random bits), so collisions across devices are
// negligible.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cdlta/tracker/internal/store"
)

// DevicePrefix starts every generated device id.
const DevicePrefix = "dev_"

// MetaStore is the subset of the local store the provider needs.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	PutMeta(ctx context.Context, key, value string) error
}

// Provider hands out the device id and new transaction ids.
type Provider struct {
	meta MetaStore

	mu       sync.Mutex
	deviceID string
}

// New returns a provider backed by meta.
func New(meta MetaStore) *Provider {
	return &Provider{meta: meta}
}

// DeviceID returns the persisted device id, generating and storing one on the
// first call for a fresh installation. The value is loaded at most once per
// process.
func (p *Provider) DeviceID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deviceID != "" {
		return p.deviceID, nil
	}

	id, err := p.meta.GetMeta(ctx, store.MetaDeviceID)
	switch {
	case err == nil && id != "":
		p.deviceID = id
		return id, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("failed to load device id: %w", err)
	}

	id = NewDeviceID()
	if err := p.meta.PutMeta(ctx, store.MetaDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	p.deviceID = id
	return id, nil
}

// NewDeviceID returns a fresh device id: DevicePrefix plus 8 hex characters.
func NewDeviceID() string {
	return DevicePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewTransactionID returns a fresh random transaction id.
func NewTransactionID() string {
	return uuid.NewString()
}
