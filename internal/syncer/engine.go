package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/metrics"
	"github.com/cdlta/tracker/internal/netstate"
	"github.com/cdlta/tracker/internal/remote"
	"github.com/cdlta/tracker/internal/store"
)

// Store is the subset of the local store the engine needs.
type Store interface {
	ListRecords(ctx context.Context) ([]*store.Record, error)
	DeleteTransactions(ctx context.Context, ids []string) (int, error)
	CountQueue(ctx context.Context) (int, error)
}

// Transport uploads a batch and returns nil only on ok=true.
type Transport interface {
	PostTransactions(ctx context.Context, base string, records []json.RawMessage) error
}

// DeviceIdentity supplies the device id reported in results.
type DeviceIdentity interface {
	DeviceID(ctx context.Context) (string, error)
}

// Options configures an Engine.
type Options struct {
	Store    Store
	Remote   Transport
	Settings config.Source
	Network  netstate.Checker

	// Identity is optional.
	Identity DeviceIdentity

	// Coalesce shares one in-flight pass between concurrent callers.
	Coalesce bool

	// OnComplete is called after every pass, including gated ones.
	OnComplete func(res *Result, err error)

	Logger *log.Logger
}

// Result describes one completed pass.
type Result struct {
	// Submitted is the snapshot size sent to the remote.
	Submitted int

	// Deleted is how many acknowledged records were removed.
	Deleted int

	// Remaining is the queue size after the pass.
	Remaining int

	Duration time.Duration
	DeviceID string
}

// Engine runs sync passes.
type Engine struct {
	opts   Options
	logger *log.Logger

	group    singleflight.Group
	mu       sync.Mutex
	inflight bool
	pending  bool
}

// New returns an Engine. Store, Remote, Settings and Network are required.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{opts: opts, logger: logger}
}

const flightKey = "sync"

// Sync drains the queue once. See the package documentation for the
// protocol and the concurrency options.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.opts.Coalesce {
		return e.pass(ctx)
	}

	e.mu.Lock()
	if e.inflight {
		e.pending = true
	}
	e.mu.Unlock()

	v, err, _ := e.group.Do(flightKey, func() (interface{}, error) {
		return e.coalesced(ctx)
	})
	res, _ := v.(*Result)
	return res, err
}

// coalesced runs passes until no caller arrived during the last one.
func (e *Engine) coalesced(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	e.inflight = true
	e.mu.Unlock()

	for {
		e.mu.Lock()
		e.pending = false
		e.mu.Unlock()

		res, err := e.pass(ctx)

		e.mu.Lock()
		if e.pending && err == nil {
			e.mu.Unlock()
			e.logger.Printf("Sync requested during pass, running follow-up")
			continue
		}
		e.inflight = false
		// Later callers must start a new pass rather than share this result.
		e.group.Forget(flightKey)
		e.mu.Unlock()
		return res, err
	}
}

func (e *Engine) pass(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if e.opts.OnComplete != nil {
			e.opts.OnComplete(res, err)
		}
	}()

	settings, err := e.gate()
	if err != nil {
		metrics.SyncAttempts.WithLabelValues(metrics.OutcomePrecondition).Inc()
		return nil, err
	}

	res = &Result{}
	if e.opts.Identity != nil {
		id, err := e.opts.Identity.DeviceID(ctx)
		if err != nil {
			metrics.SyncAttempts.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, err
		}
		res.DeviceID = id
	}

	records, err := e.opts.Store.ListRecords(ctx)
	if err != nil {
		metrics.SyncAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(records) == 0 {
		metrics.SyncAttempts.WithLabelValues(metrics.OutcomeEmpty).Inc()
		metrics.QueueDepth.Set(0)
		res.Duration = time.Since(start)
		return res, nil
	}

	ids := make([]string, len(records))
	batch := make([]json.RawMessage, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		batch[i] = rec.Data
	}
	res.Submitted = len(batch)
	metrics.SyncBatchSize.Observe(float64(len(batch)))

	if err := e.opts.Remote.PostTransactions(ctx, settings.APIBase, batch); err != nil {
		var re *remote.RemoteError
		if errors.As(err, &re) {
			metrics.SyncAttempts.WithLabelValues(metrics.OutcomeRejected).Inc()
		} else {
			metrics.SyncAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		}
		e.logger.Printf("Sync of %d transactions failed: %v", len(batch), err)
		return nil, fmt.Errorf("sync failed: %w", err)
	}
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	// The remote holds these records now; finish removing them even if the
	// caller has gone away.
	dctx := context.WithoutCancel(ctx)
	deleted, err := e.opts.Store.DeleteTransactions(dctx, ids)
	if err != nil {
		metrics.SyncAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to remove acknowledged transactions: %w", err)
	}
	res.Deleted = deleted

	remaining, err := e.opts.Store.CountQueue(dctx)
	if err != nil {
		metrics.SyncAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}
	res.Remaining = remaining
	res.Duration = time.Since(start)

	metrics.SyncAttempts.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.QueueDepth.Set(float64(remaining))
	e.logger.Printf("Synced %d transactions (%d remaining) in %s", deleted, remaining, res.Duration.Round(time.Millisecond))
	return res, nil
}

// gate reads settings and applies the preconditions in order.
func (e *Engine) gate() (*config.Settings, error) {
	if !e.opts.Network.Online() {
		return nil, offline()
	}
	settings, err := e.opts.Settings.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.StaffID == "" {
		return nil, missingStaffID()
	}
	if settings.APIBase == "" {
		return nil, missingEndpoint()
	}
	return settings, nil
}
