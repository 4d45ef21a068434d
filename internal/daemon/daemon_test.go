package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/netstate"
	"github.com/cdlta/tracker/internal/refresh"
	"github.com/cdlta/tracker/internal/store"
	"github.com/cdlta/tracker/internal/syncer"
)

// fakeMonitor emits transitions on demand.
type fakeMonitor struct {
	ch      chan netstate.Event
	running chan struct{}
	online  atomic.Bool
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{ch: make(chan netstate.Event, 8), running: make(chan struct{})}
}

func (m *fakeMonitor) Online() bool                     { return m.online.Load() }
func (m *fakeMonitor) Subscribe() <-chan netstate.Event { return m.ch }

func (m *fakeMonitor) Run(ctx context.Context) error {
	close(m.running)
	<-ctx.Done()
	close(m.ch)
	return nil
}

func (m *fakeMonitor) emit(online bool) {
	m.online.Store(online)
	m.ch <- netstate.Event{Online: online, At: time.Now()}
}

type fakeEngine struct {
	calls chan struct{}
}

func (e *fakeEngine) Sync(ctx context.Context) (*syncer.Result, error) {
	e.calls <- struct{}{}
	return &syncer.Result{}, nil
}

type fakeRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *fakeRefresher) Refresh(ctx context.Context) (*refresh.Result, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &refresh.Result{Stored: 3}, nil
}

type recorder struct {
	mu           sync.Mutex
	connectivity []bool
	refreshes    int
}

func (r *recorder) OnConnectivity(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectivity = append(r.connectivity, online)
}

func (r *recorder) OnRefresh(res *refresh.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
}

type harness struct {
	d         *Daemon
	monitor   *fakeMonitor
	engine    *fakeEngine
	refresher *fakeRefresher
	observer  *recorder
	flags     *store.DB
	done      chan error
}

func startDaemon(t *testing.T, settings config.Source, cfg *Config) *harness {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		monitor:   newFakeMonitor(),
		engine:    &fakeEngine{calls: make(chan struct{}, 64)},
		refresher: &fakeRefresher{},
		observer:  &recorder{},
		flags:     db,
		done:      make(chan error, 1),
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = logging.Discard()

	h.d, err = New(Deps{
		Engine:    h.engine,
		Refresher: h.refresher,
		Monitor:   h.monitor,
		Flags:     db,
		Settings:  settings,
		Observer:  h.observer,
	}, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	go func() { h.done <- h.d.Start(context.Background()) }()
	select {
	case <-h.monitor.running:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not start")
	}
	t.Cleanup(func() { _ = h.d.Stop() })
	return h
}

func (h *harness) waitSync(t *testing.T) {
	t.Helper()
	select {
	case <-h.engine.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sync")
	}
}

func (h *harness) expectNoSync(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-h.engine.calls:
		t.Fatal("unexpected sync")
	case <-time.After(within):
	}
}

func TestNew(t *testing.T) {
	full := Deps{
		Engine:    &fakeEngine{},
		Refresher: &fakeRefresher{},
		Monitor:   newFakeMonitor(),
		Flags:     &store.DB{},
		Settings:  config.Static{},
	}

	tests := []struct {
		name    string
		mutate  func(*Deps)
		wantErr bool
	}{
		{"valid", func(*Deps) {}, false},
		{"nil engine", func(d *Deps) { d.Engine = nil }, true},
		{"nil refresher", func(d *Deps) { d.Refresher = nil }, true},
		{"nil monitor", func(d *Deps) { d.Monitor = nil }, true},
		{"nil flags", func(d *Deps) { d.Flags = nil }, true},
		{"nil settings", func(d *Deps) { d.Settings = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			d, err := New(deps, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && d.config.DebounceInterval <= 0 {
				t.Error("default debounce not applied")
			}
		})
	}
}

func TestDaemon_SyncOnReconnect(t *testing.T) {
	h := startDaemon(t, config.Static{}, nil)

	h.monitor.emit(false)
	h.expectNoSync(t, 100*time.Millisecond)

	h.monitor.emit(true)
	h.waitSync(t)

	h.monitor.emit(false)
	h.monitor.emit(true)
	h.waitSync(t)

	if err := h.d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := <-h.done; err != nil {
		t.Errorf("Start() returned %v", err)
	}

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	want := []bool{false, true, false, true}
	if len(h.observer.connectivity) != len(want) {
		t.Fatalf("connectivity events = %v, want %v", h.observer.connectivity, want)
	}
	for i := range want {
		if h.observer.connectivity[i] != want[i] {
			t.Errorf("connectivity events = %v, want %v", h.observer.connectivity, want)
			break
		}
	}
	if h.d.Syncs() != 2 {
		t.Errorf("Syncs() = %d, want 2", h.d.Syncs())
	}
}

func TestDaemon_FirstRefreshOnce(t *testing.T) {
	h := startDaemon(t, config.Static{AutoRefresh: true}, nil)

	h.monitor.emit(true)
	h.waitSync(t)
	h.monitor.emit(false)
	h.monitor.emit(true)
	h.waitSync(t)

	if n := h.refresher.calls.Load(); n != 1 {
		t.Errorf("refresh ran %d times, want 1", n)
	}
	needed, err := refresh.NeedsFirstRefresh(context.Background(), h.flags)
	if err != nil {
		t.Fatalf("NeedsFirstRefresh() failed: %v", err)
	}
	if needed {
		t.Error("refresh flag not recorded")
	}

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	if h.observer.refreshes != 1 {
		t.Errorf("observer saw %d refreshes, want 1", h.observer.refreshes)
	}
}

func TestDaemon_FirstRefreshDisabled(t *testing.T) {
	h := startDaemon(t, config.Static{AutoRefresh: false}, nil)

	h.monitor.emit(true)
	h.waitSync(t)

	if n := h.refresher.calls.Load(); n != 0 {
		t.Errorf("refresh ran %d times with auto refresh off", n)
	}
}

func TestDaemon_FailedRefreshRetriesNextTime(t *testing.T) {
	h := startDaemon(t, config.Static{AutoRefresh: true}, nil)
	h.refresher.err = errors.New("remote down")

	h.monitor.emit(true)
	h.waitSync(t)

	needed, _ := refresh.NeedsFirstRefresh(context.Background(), h.flags)
	if !needed {
		t.Error("failed refresh must not record the flag")
	}

	h.monitor.emit(false)
	h.monitor.emit(true)
	h.waitSync(t)
	if n := h.refresher.calls.Load(); n != 2 {
		t.Errorf("refresh ran %d times, want 2", n)
	}
}

func TestDaemon_SettingsChangeDebounced(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, config.FileName)
	h := startDaemon(t, config.Static{}, &Config{
		SettingsFile:     file,
		DebounceInterval: 200 * time.Millisecond,
	})

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	h.expectNoSync(t, 400*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(file, []byte("staff_id: S-1\n"), 0644); err != nil {
			t.Fatalf("failed to write settings: %v", err)
		}
	}
	h.waitSync(t)
	h.expectNoSync(t, 500*time.Millisecond)
}

func TestDaemon_StopIdempotent(t *testing.T) {
	h := startDaemon(t, config.Static{}, nil)

	if err := h.d.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := h.d.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	if err := <-h.done; err != nil {
		t.Errorf("Start() returned %v", err)
	}
	if err := h.d.Start(context.Background()); err == nil {
		t.Error("restarting a stopped daemon should fail")
	}
}
