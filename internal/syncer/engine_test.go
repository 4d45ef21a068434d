package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/identity"
	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/netstate"
	"github.com/cdlta/tracker/internal/remote"
	"github.com/cdlta/tracker/internal/schema"
	"github.com/cdlta/tracker/internal/store"
)

// fakeRemote records every batch it receives.
type fakeRemote struct {
	mu      sync.Mutex
	batches [][]string
	bases   []string
	calls   atomic.Int32

	// err is returned from every call when set.
	err error

	// gate, when set, blocks each call until a value is received.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeRemote) PostTransactions(ctx context.Context, base string, records []json.RawMessage) error {
	f.calls.Add(1)
	ids := make([]string, len(records))
	for i, raw := range records {
		var k struct {
			ID string `json:"txn_id"`
		}
		_ = json.Unmarshal(raw, &k)
		ids[i] = k.ID
	}
	f.mu.Lock()
	f.batches = append(f.batches, ids)
	f.bases = append(f.bases, base)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.err
}

func (f *fakeRemote) batch(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func setupStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func enqueue(t *testing.T, db *store.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		txn := &schema.Transaction{
			ID:       id,
			DeviceID: "dev_12345678",
			StaffID:  "STAFF-1",
			Action:   schema.ActionRestock,
			RefID:    "ITEM-" + id,
			Quantity: schema.Qty(1),
		}
		txn.SetDefaults(time.Now())
		if err := db.PutTransaction(context.Background(), txn); err != nil {
			t.Fatalf("PutTransaction() error: %v", err)
		}
	}
}

func goodSettings() config.Static {
	return config.Static{APIBase: "https://remote.example/exec", StaffID: "STAFF-1"}
}

func newEngine(db *store.DB, r Transport, settings config.Source, online bool) *Engine {
	return New(Options{
		Store:    db,
		Remote:   r,
		Settings: settings,
		Network:  netstate.Static(online),
		Logger:   logging.Discard(),
	})
}

func TestSync_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		online   bool
		settings config.Static
		want     error
	}{
		{"offline", false, goodSettings(), ErrOffline},
		{"offline wins over missing staff", false, config.Static{}, ErrOffline},
		{"missing staff id", true, config.Static{APIBase: "https://remote.example/exec"}, ErrMissingStaffID},
		{"staff checked before endpoint", true, config.Static{}, ErrMissingStaffID},
		{"missing endpoint", true, config.Static{StaffID: "S"}, ErrMissingEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupStore(t)
			enqueue(t, db, "a", "b")
			r := &fakeRemote{}

			res, err := newEngine(db, r, tt.settings, tt.online).Sync(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Sync() error = %v, want %v", err, tt.want)
			}
			var pre *PreconditionError
			if !errors.As(err, &pre) || pre.Message == "" {
				t.Errorf("expected PreconditionError with a message, got %T", err)
			}
			if res != nil {
				t.Errorf("expected nil result, got %+v", res)
			}
			if n := r.calls.Load(); n != 0 {
				t.Errorf("gated sync made %d requests", n)
			}
			if n, _ := db.CountQueue(context.Background()); n != 2 {
				t.Errorf("gated sync changed the queue: %d", n)
			}
		})
	}
}

func TestSync_EmptyQueueNoRequest(t *testing.T) {
	db := setupStore(t)
	r := &fakeRemote{}

	res, err := newEngine(db, r, goodSettings(), true).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Submitted != 0 || res.Remaining != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if n := r.calls.Load(); n != 0 {
		t.Errorf("empty queue made %d requests", n)
	}
}

func TestSync_SuccessDrainsInOrder(t *testing.T) {
	db := setupStore(t)
	enqueue(t, db, "t1", "t2", "t3")
	r := &fakeRemote{}

	res, err := newEngine(db, r, goodSettings(), true).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Submitted != 3 || res.Deleted != 3 || res.Remaining != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if r.calls.Load() != 1 {
		t.Errorf("expected exactly one request, got %d", r.calls.Load())
	}
	got := r.batch(0)
	if fmt.Sprint(got) != "[t1 t2 t3]" {
		t.Errorf("batch = %v, want queue order", got)
	}
	if r.bases[0] != "https://remote.example/exec" {
		t.Errorf("base = %q", r.bases[0])
	}
}

func TestSync_RejectedLeavesQueue(t *testing.T) {
	db := setupStore(t)
	enqueue(t, db, "t1", "t2")
	r := &fakeRemote{err: &remote.RemoteError{Route: remote.RouteTransactions, Message: "quota exceeded"}}

	_, err := newEngine(db, r, goodSettings(), true).Sync(context.Background())
	var re *remote.RemoteError
	if !errors.As(err, &re) || re.Message != "quota exceeded" {
		t.Fatalf("Sync() error = %v, want RemoteError", err)
	}
	if n, _ := db.CountQueue(context.Background()); n != 2 {
		t.Errorf("rejected sync removed records: %d left", n)
	}
}

func TestSync_TransportErrorLeavesQueue(t *testing.T) {
	db := setupStore(t)
	enqueue(t, db, "t1")
	r := &fakeRemote{err: errors.New("connection reset")}

	if _, err := newEngine(db, r, goodSettings(), true).Sync(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if n, _ := db.CountQueue(context.Background()); n != 1 {
		t.Errorf("failed sync removed records: %d left", n)
	}
}

func TestSync_RecordsEnqueuedDuringRequestSurvive(t *testing.T) {
	db := setupStore(t)
	enqueue(t, db, "t1", "t2")
	r := &fakeRemote{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	engine := newEngine(db, r, goodSettings(), true)

	done := make(chan error, 1)
	var res *Result
	go func() {
		var err error
		res, err = engine.Sync(context.Background())
		done <- err
	}()

	<-r.entered
	enqueue(t, db, "t3")
	close(r.gate)

	if err := <-done; err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.Deleted != 2 || res.Remaining != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if _, err := db.GetTransaction(context.Background(), "t3"); err != nil {
		t.Errorf("record enqueued mid-flight was removed: %v", err)
	}
}

func TestSync_SettingsRereadEveryCall(t *testing.T) {
	db := setupStore(t)
	cfg := config.NewStore(filepath.Join(t.TempDir(), config.FileName))
	r := &fakeRemote{}
	engine := newEngine(db, r, cfg, true)
	enqueue(t, db, "t1")

	if _, err := engine.Sync(context.Background()); !errors.Is(err, ErrMissingStaffID) {
		t.Fatalf("expected missing staff id, got %v", err)
	}

	if err := cfg.Set(config.KeyStaffID, "STAFF-2"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set(config.KeyAPIBase, "https://remote.example/exec"); err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() after settings change error: %v", err)
	}
	if r.calls.Load() != 1 {
		t.Errorf("expected one request, got %d", r.calls.Load())
	}
}

func TestSync_DeviceIDAndHook(t *testing.T) {
	db := setupStore(t)
	enqueue(t, db, "t1")

	var hooked atomic.Int32
	engine := New(Options{
		Store:      db,
		Remote:     &fakeRemote{},
		Settings:   goodSettings(),
		Network:    netstate.Static(true),
		Identity:   identity.New(db),
		OnComplete: func(*Result, error) { hooked.Add(1) },
		Logger:     logging.Discard(),
	})

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if res.DeviceID == "" {
		t.Error("expected device id in result")
	}

	engine.opts.Network = netstate.Static(false)
	_, _ = engine.Sync(context.Background())

	if hooked.Load() != 2 {
		t.Errorf("OnComplete called %d times, want 2", hooked.Load())
	}
}

func TestSync_OverlappingIndependent(t *testing.T) {
	db := setupStore(t)
	enqueue(t, db, "t1", "t2")
	r := &fakeRemote{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	engine := newEngine(db, r, goodSettings(), true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Sync(context.Background())
		}(i)
	}

	<-r.entered
	<-r.entered
	close(r.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Sync(%d) error: %v", i, err)
		}
	}
	if r.calls.Load() != 2 {
		t.Errorf("overlapping syncs should each submit, got %d requests", r.calls.Load())
	}
	if n, _ := db.CountQueue(context.Background()); n != 0 {
		t.Errorf("queue not drained: %d", n)
	}
}

func TestSync_CoalesceFollowUp(t *testing.T) {
	db := setupStore(t)
	enqueue(t, db, "t1")
	r := &fakeRemote{gate: make(chan struct{}, 2), entered: make(chan struct{}, 2)}
	engine := New(Options{
		Store:    db,
		Remote:   r,
		Settings: goodSettings(),
		Network:  netstate.Static(true),
		Coalesce: true,
		Logger:   logging.Discard(),
	})

	first := make(chan error, 1)
	go func() {
		_, err := engine.Sync(context.Background())
		first <- err
	}()
	<-r.entered

	// A record arrives while the first pass is in flight.
	enqueue(t, db, "t2")
	second := make(chan error, 1)
	go func() {
		_, err := engine.Sync(context.Background())
		second <- err
	}()

	// Wait until the second caller has registered as pending.
	deadline := time.Now().Add(2 * time.Second)
	for {
		engine.mu.Lock()
		pending := engine.pending
		engine.mu.Unlock()
		if pending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second caller never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.gate <- struct{}{}
	<-r.entered
	r.gate <- struct{}{}

	if err := <-first; err != nil {
		t.Fatalf("first Sync() error: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}

	if r.calls.Load() != 2 {
		t.Fatalf("expected initial pass plus one follow-up, got %d requests", r.calls.Load())
	}
	if fmt.Sprint(r.batch(1)) != "[t2]" {
		t.Errorf("follow-up batch = %v, want [t2]", r.batch(1))
	}
	if n, _ := db.CountQueue(context.Background()); n != 0 {
		t.Errorf("queue not drained: %d", n)
	}
}

func TestSync_PreconditionsWithProbeMonitor(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name     string
		settings config.Static
		want     error
	}{
		{"no endpoint", config.Static{StaffID: "S"}, ErrMissingEndpoint},
		{"no endpoint or staff", config.Static{}, ErrMissingStaffID},
		{"probe target unreachable", config.Static{StaffID: "S", ProbeURL: closed.URL}, ErrOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := setupStore(t)
			enqueue(t, db, "a")

			settings := tt.settings
			monitor := netstate.NewMonitor(netstate.Options{
				URL: func() string {
					s, _ := settings.Load()
					return s.Probe()
				},
				Logger: logging.Discard(),
			})
			monitor.Probe(ctx)

			r := &fakeRemote{}
			e := New(Options{
				Store:    db,
				Remote:   r,
				Settings: settings,
				Network:  monitor,
				Logger:   logging.Discard(),
			})
			_, err := e.Sync(ctx)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Sync() error = %v, want %v", err, tt.want)
			}
			if n := r.calls.Load(); n != 0 {
				t.Errorf("gated sync made %d requests", n)
			}
		})
	}
}
