// Package daemon keeps the queue flowing without a user at the keyboard.
//
// The daemon:
//  1. Runs the connectivity monitor
//  2. Syncs whenever the remote becomes reachable
//  3. Performs the one-time student refresh on the first online transition
//  4. Re-syncs after the settings file changes, debounced
//  5. Handles graceful shutdown
//
// Failures are logged and reported to the observer; none of them stop the
// daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/netstate"
	"github.com/cdlta/tracker/internal/refresh"
	"github.com/cdlta/tracker/internal/syncer"
)

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context) (*syncer.Result, error)
}

// Refresher replaces the student cache.
type Refresher interface {
	Refresh(ctx context.Context) (*refresh.Result, error)
}

// Monitor reports connectivity transitions. Run must close every subscribed
// channel when it returns.
type Monitor interface {
	netstate.Checker
	Subscribe() <-chan netstate.Event
	Run(ctx context.Context) error
}

// Observer is told about connectivity and refresh outcomes. Sync outcomes
// go through the engine's completion hook instead.
type Observer interface {
	OnConnectivity(online bool)
	OnRefresh(res *refresh.Result)
}

// Config holds configuration for the daemon.
type Config struct {
	// SettingsFile is watched for changes. Empty disables watching.
	SettingsFile string

	// DebounceInterval is how long the settings file must be quiet before a
	// change is acted on. Rapid writes are batched into one sync.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Deps are the components the daemon drives.
type Deps struct {
	Engine    Syncer
	Refresher Refresher
	Monitor   Monitor

	// Flags holds the first-refresh flag.
	Flags refresh.Store

	Settings config.Source

	// Observer is optional.
	Observer Observer
}

// Daemon orchestrates connectivity, sync and refresh.
type Daemon struct {
	deps   Deps
	config *Config
	logger *log.Logger

	watcher *FileWatcher

	changeMu  sync.Mutex
	changedAt time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	syncs   int
}

// New creates a daemon. A nil config uses DefaultConfig.
//
// Use Start() to begin.
func New(deps Deps, config *Config) (*Daemon, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if deps.Refresher == nil {
		return nil, fmt.Errorf("refresher cannot be nil")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if deps.Flags == nil {
		return nil, fmt.Errorf("flag store cannot be nil")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	d := &Daemon{deps: deps, config: config, logger: logger}
	if config.SettingsFile != "" {
		w, err := NewFileWatcher(config.SettingsFile)
		if err != nil {
			return nil, err
		}
		d.watcher = w
	}
	return d, nil
}

// Start runs the daemon. It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})
	d.mu.Unlock()
	defer close(d.stopped)
	defer cancel()

	d.logger.Println("Starting daemon")

	events := d.deps.Monitor.Subscribe()

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch settings: %w", err)
		}
		defer func() {
			if err := d.watcher.Stop(); err != nil {
				d.logger.Printf("Error closing watcher: %v", err)
			}
		}()
		d.logger.Printf("Watching: %s", d.watcher.File())
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return d.deps.Monitor.Run(gctx) })
	g.Go(func() error {
		d.handleConnectivity(gctx, events)
		return nil
	})
	if d.watcher != nil {
		g.Go(func() error {
			d.watchSettings(gctx)
			return nil
		})
		g.Go(func() error {
			d.processChanges(gctx)
			return nil
		})
	}

	err := g.Wait()
	d.logger.Println("Daemon stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop shuts the daemon down and waits for Start to return.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	cancel, stopped := d.cancel, d.stopped
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}

	d.logger.Println("Stopping daemon")
	cancel()
	<-stopped
	return nil
}

// Syncs returns how many sync passes the daemon has triggered.
func (d *Daemon) Syncs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncs
}

// handleConnectivity reacts to monitor transitions until the channel closes.
func (d *Daemon) handleConnectivity(ctx context.Context, events <-chan netstate.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if d.deps.Observer != nil {
				d.deps.Observer.OnConnectivity(ev.Online)
			}
			if !ev.Online {
				d.logger.Println("Offline")
				continue
			}
			d.logger.Println("Online")
			d.firstRefresh(ctx)
			d.runSync(ctx, "reconnect")
		}
	}
}

// firstRefresh performs the one-time student refresh when it is enabled and
// has not happened yet.
func (d *Daemon) firstRefresh(ctx context.Context) {
	settings, err := d.deps.Settings.Load()
	if err != nil {
		d.logger.Printf("Error loading settings: %v", err)
		return
	}
	if !settings.AutoRefresh {
		return
	}
	needed, err := refresh.NeedsFirstRefresh(ctx, d.deps.Flags)
	if err != nil {
		d.logger.Printf("Error reading refresh flag: %v", err)
		return
	}
	if !needed {
		return
	}

	res, err := d.deps.Refresher.Refresh(ctx)
	if err != nil {
		d.logger.Printf("Initial student refresh failed: %v", err)
		return
	}
	if err := refresh.MarkRefreshed(ctx, d.deps.Flags); err != nil {
		d.logger.Printf("Error recording refresh: %v", err)
	}
	if d.deps.Observer != nil {
		d.deps.Observer.OnRefresh(res)
	}
}

func (d *Daemon) runSync(ctx context.Context, reason string) {
	d.mu.Lock()
	d.syncs++
	d.mu.Unlock()

	res, err := d.deps.Engine.Sync(ctx)
	var pre *syncer.PreconditionError
	switch {
	case errors.As(err, &pre):
		d.logger.Printf("Sync (%s) skipped: %s", reason, pre.Message)
	case err != nil:
		d.logger.Printf("Sync (%s) failed: %v", reason, err)
	case res.Submitted > 0:
		d.logger.Printf("Sync (%s): %d sent, %d remaining", reason, res.Submitted, res.Remaining)
	}
}

// watchSettings records settings file events for processChanges.
func (d *Daemon) watchSettings(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if event.Op == OpDelete {
				continue
			}
			d.logger.Printf("File event: %s %s", event.Op, event.Path)
			d.changeMu.Lock()
			d.changedAt = time.Now()
			d.changeMu.Unlock()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// processChanges syncs once the settings file has been quiet for the
// debounce interval.
func (d *Daemon) processChanges(ctx context.Context) {
	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			d.changeMu.Lock()
			ready := !d.changedAt.IsZero() && time.Since(d.changedAt) >= d.config.DebounceInterval
			if ready {
				d.changedAt = time.Time{}
			}
			d.changeMu.Unlock()

			if ready {
				d.logger.Println("Settings changed")
				d.runSync(ctx, "settings")
			}
		}
	}
}
