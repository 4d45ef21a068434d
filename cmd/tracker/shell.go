package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/shell"
	"github.com/cdlta/tracker/internal/ui"
)

var shellCmd = &cobra.Command{
	Use:     "shell",
	GroupID: "advanced",
	Short:   "Precache and serve the offline app shell",
	Long: `The app shell is the set of static assets the recording UI needs. It is
precached into <home>/shell.db so the UI loads with no network.

Each manifest generation gets its own cache (e.g. cdlta-tracker-v3).
Installing fetches every asset or stores nothing; activating deletes every
other generation.`,
}

var shellInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Precache the manifest assets and activate the generation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			sh, cache, err := openShell(ctx, cmd, a)
			if err != nil {
				return err
			}
			defer cache.Close()

			if err := sh.Install(ctx); err != nil {
				return err
			}
			deleted, err := sh.Activate(ctx)
			if err != nil {
				return err
			}
			n, _ := cache.Count(ctx, sh.CacheName())
			fmt.Printf("%s Installed %s (%d assets)\n", ui.RenderPass("✓"), sh.CacheName(), n)
			for _, name := range deleted {
				fmt.Printf("   Removed %s\n", ui.RenderMuted(name))
			}
			return nil
		})
	},
}

var shellServeCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the app shell locally, cache-first",
	Annotations: map[string]string{annotationServer: ""},
	Long: `Serve the app shell. Assets come from the cache and are fetched from the
origin only on a miss. Requests to /api (and absolute URLs on an API host)
are forwarded to api_base; when the remote is unreachable they are answered
with {"ok":false,"error":"offline"}.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return withApp(ctx, func(a *app) error {
			srv, closeShell, err := startShell(ctx, cmd, a, addr, nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s App shell on http://%s\n", ui.RenderAccent("→"), srv.Addr())
			fmt.Println("Press Ctrl+C to stop...")

			<-ctx.Done()
			fmt.Println("\nShutting down...")
			closeShell()
			return nil
		})
	},
}

// openShell loads the manifest named by the flags and opens the cache.
func openShell(ctx context.Context, cmd *cobra.Command, a *app) (*shell.Shell, *shell.Cache, error) {
	manifestFile, _ := cmd.Flags().GetString("manifest")
	origin, _ := cmd.Flags().GetString("origin")

	var m *shell.Manifest
	var err error
	if manifestFile != "" {
		m, err = shell.LoadManifest(manifestFile)
		if err != nil {
			return nil, nil, err
		}
	} else {
		m = shell.DefaultManifest(origin)
		if err := m.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid default manifest: %w", err)
		}
	}

	cache, err := shell.OpenCache(ctx, filepath.Join(a.home, shellFile))
	if err != nil {
		return nil, nil, err
	}

	sh := shell.New(shell.Options{
		Manifest: m,
		Cache:    cache,
		Settings: a.settings,
		Logger:   logging.New("shell"),
	})
	return sh, cache, nil
}

func addShellFlags(cmd *cobra.Command) {
	cmd.Flags().String("manifest", "", "TOML shell manifest (default: built-in asset list)")
	cmd.Flags().String("origin", "http://127.0.0.1:5500", "Origin the built-in asset list is fetched from")
}

func init() {
	shellServeCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	addShellFlags(shellInstallCmd)
	addShellFlags(shellServeCmd)

	shellCmd.AddCommand(shellInstallCmd)
	shellCmd.AddCommand(shellServeCmd)
	rootCmd.AddCommand(shellCmd)
}
