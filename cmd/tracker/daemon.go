package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/daemon"
	"github.com/cdlta/tracker/internal/dashboard"
	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/shell"
	"github.com/cdlta/tracker/internal/syncer"
	"github.com/cdlta/tracker/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:         "daemon",
	GroupID:     "sync",
	Short:       "Sync automatically whenever the remote is reachable",
	Annotations: map[string]string{annotationServer: ""},
	Long: `Run in the foreground, probing the remote and syncing the queue every time
it becomes reachable. The first time the device is online the students list
is downloaded (unless sync.auto_refresh is false). Editing config.yaml
triggers a sync as well.

A WebSocket dashboard streams queue, connectivity and sync events:
  ws://127.0.0.1:8081/ws

With --shell-addr the offline app shell is served too, with the dashboard
mounted at /ws on the same port.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dashAddr, _ := cmd.Flags().GetString("dashboard-addr")
		shellAddr, _ := cmd.Flags().GetString("shell-addr")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		if a.monitor == nil {
			return fmt.Errorf("the daemon probes connectivity itself; drop --offline")
		}
		if err := os.MkdirAll(filepath.Dir(a.settings.Path()), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		dash := dashboard.NewServer(&dashboard.Config{Addr: dashAddr, Logger: logging.New("dashboard")})
		handler := dashboard.NewHandler(dash, logging.New("dashboard"))
		if err := seedStats(ctx, a, handler); err != nil {
			return err
		}

		// Reconnect and settings triggers share one pass.
		engine := syncer.New(syncer.Options{
			Store:      a.db,
			Remote:     a.client,
			Settings:   a.settings,
			Network:    a.network,
			Identity:   a.ids,
			Coalesce:   true,
			OnComplete: handler.OnSync,
			Logger:     logging.New("sync"),
		})

		d, err := daemon.New(daemon.Deps{
			Engine:    engine,
			Refresher: a.refresher,
			Monitor:   a.monitor,
			Flags:     a.db,
			Settings:  a.settings,
			Observer:  handler,
		}, &daemon.Config{
			SettingsFile:     a.settings.Path(),
			DebounceInterval: 250 * time.Millisecond,
			Logger:           logging.New("daemon"),
		})
		if err != nil {
			return err
		}

		if shellAddr != "" {
			srv, closeShell, err := startShell(ctx, cmd, a, shellAddr, dash.HandleWebSocket)
			if err != nil {
				return err
			}
			defer closeShell()
			fmt.Printf("%s App shell on http://%s (dashboard at ws://%s/ws)\n", ui.RenderAccent("→"), srv.Addr(), srv.Addr())
		} else {
			if err := dash.Start(); err != nil {
				return err
			}
			fmt.Printf("%s Dashboard on ws://%s/ws\n", ui.RenderAccent("→"), dash.GetAddr())
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}()

		fmt.Println("Press Ctrl+C to stop...")
		return d.Start(ctx)
	},
}

// seedStats loads the current counts into the dashboard snapshot.
func seedStats(ctx context.Context, a *app, h *dashboard.Handler) error {
	deviceID, err := a.ids.DeviceID(ctx)
	if err != nil {
		return err
	}
	h.SetDeviceID(deviceID)

	queued, err := a.db.CountQueue(ctx)
	if err != nil {
		return err
	}
	h.OnQueueChanged(queued)

	students, err := a.db.CountStudents(ctx)
	if err != nil {
		return err
	}
	h.OnStudentsChanged(students)
	return nil
}

// startShell installs, activates and serves the app shell.
func startShell(ctx context.Context, cmd *cobra.Command, a *app, addr string, ws http.HandlerFunc) (*shell.Server, func(), error) {
	sh, cache, err := openShell(ctx, cmd, a)
	if err != nil {
		return nil, nil, err
	}
	if err := sh.Install(ctx); err != nil {
		// Keep serving whatever an earlier install cached.
		fmt.Printf("%s %v\n", ui.RenderWarn("⚠"), err)
	} else if _, err := sh.Activate(ctx); err != nil {
		_ = cache.Close()
		return nil, nil, err
	}

	srv := shell.NewServer(sh, shell.ServerConfig{Addr: addr, WebSocket: ws, Logger: logging.New("shell")})
	if err := srv.Start(); err != nil {
		_ = cache.Close()
		return nil, nil, err
	}
	closeFn := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping shell server: %v\n", err)
		}
		_ = cache.Close()
	}
	return srv, closeFn, nil
}

func init() {
	daemonCmd.Flags().String("dashboard-addr", dashboard.DefaultConfig().Addr, "Dashboard listen address")
	daemonCmd.Flags().String("shell-addr", "", "Also serve the app shell on this address")
	addShellFlags(daemonCmd)
	rootCmd.AddCommand(daemonCmd)
}
