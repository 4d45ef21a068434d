package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/identity"
	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/metrics"
	"github.com/cdlta/tracker/internal/netstate"
	"github.com/cdlta/tracker/internal/queue"
	"github.com/cdlta/tracker/internal/refresh"
	"github.com/cdlta/tracker/internal/remote"
	"github.com/cdlta/tracker/internal/store"
	"github.com/cdlta/tracker/internal/syncer"
	"github.com/cdlta/tracker/internal/ui"
)

// Local file names inside the tracker home.
const (
	storeFile = "tracker.db"
	shellFile = "shell.db"
)

// app holds the components shared by commands.
type app struct {
	home     string
	settings *config.Store
	db       *store.DB
	ids      *identity.Provider
	queue    *queue.Manager
	client   *remote.Client

	// monitor is nil when --offline is set.
	monitor *netstate.Monitor
	network netstate.Checker

	engine    *syncer.Engine
	refresher *refresh.Refresher
}

// openApp opens the local store and wires the engine. The caller must call
// close.
func openApp(ctx context.Context) (*app, error) {
	home, err := homeDir()
	if err != nil {
		return nil, err
	}
	cfgPath, err := configPath()
	if err != nil {
		return nil, err
	}

	settings := config.NewStore(cfgPath)
	if flags.GetBool("coalesce") {
		settings.Override(config.KeyCoalesce, true)
	}
	current, err := settings.Load()
	if err != nil {
		return nil, err
	}

	db, err := store.OpenContext(ctx, filepath.Join(home, storeFile))
	if err != nil {
		return nil, err
	}

	a := &app{
		home:     home,
		settings: settings,
		db:       db,
		ids:      identity.New(db),
		queue:    queue.New(db, logging.New("queue")),
		client:   remote.New(remote.Options{Logger: logging.New("remote")}),
	}

	if flags.GetBool("offline") {
		a.network = netstate.Static(false)
	} else {
		a.monitor = netstate.NewMonitor(netstate.Options{
			URL:      a.probeURL,
			Interval: current.ProbeInterval,
			Logger:   logging.New("netstate"),
		})
		a.network = a.monitor
	}

	a.engine = syncer.New(syncer.Options{
		Store:    db,
		Remote:   a.client,
		Settings: settings,
		Network:  a.network,
		Identity: a.ids,
		Coalesce: current.Coalesce,
		Logger:   logging.New("sync"),
	})
	a.refresher = refresh.New(refresh.Options{
		Store:    db,
		Remote:   a.client,
		Settings: settings,
		Network:  a.network,
		Logger:   logging.New("refresh"),
	})

	if n, err := db.CountQueue(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
	return a, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func (a *app) probeURL() string {
	s, err := a.settings.Load()
	if err != nil {
		return ""
	}
	return s.Probe()
}

// probe checks reachability once. With --offline it reports offline.
func (a *app) probe(ctx context.Context) bool {
	if a.monitor == nil {
		return a.network.Online()
	}
	return a.monitor.Probe(ctx)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// printSyncResult renders the outcome of a sync pass. Precondition failures
// are returned so the command exits non-zero with their message.
func printSyncResult(res *syncer.Result, err error) error {
	switch {
	case err != nil:
		return err
	case res.Submitted == 0:
		fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
	default:
		fmt.Printf("%s Synced %d transactions in %v\n", ui.RenderPass("✓"), res.Deleted, res.Duration.Round(time.Millisecond))
		if res.Remaining > 0 {
			fmt.Printf("   %d recorded during the upload remain queued\n", res.Remaining)
		}
	}
	return nil
}
