// Command tracker records inventory and library transactions offline and
// syncs them to the remote sheet when a connection is available.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/ui"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Offline inventory and library transaction tracker",
	Long: `tracker records inventory and library transactions on this device and
uploads them to the remote sheet when online.

Every transaction is stored locally first. Nothing recorded offline is lost:
the queue is only cleared for records the remote has acknowledged.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Close()
	},
}

// flags are bound through viper so TRACKER_HOME and friends work too.
var flags = viper.New()

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "record", Title: "Recording:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.String("home", "", "Tracker data directory (default: ~/.tracker)")
	pf.String("config", "", "Settings file (default: <home>/config.yaml)")
	pf.String("log-file", "", "Also write logs to this rotated file")
	pf.Bool("offline", false, "Treat the remote as unreachable")
	pf.Bool("coalesce", false, "Share one in-flight sync between concurrent callers")
	pf.BoolP("yes", "y", false, "Answer yes to confirmation prompts")
	pf.BoolP("verbose", "v", false, "Print component logs to stderr")

	for _, name := range []string{"home", "config", "log-file", "offline", "coalesce", "yes", "verbose"} {
		_ = flags.BindPFlag(name, pf.Lookup(name))
	}
	flags.SetEnvPrefix(config.EnvPrefix)
	_ = flags.BindEnv("home")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
		os.Exit(1)
	}
}

// homeDir resolves the data directory.
func homeDir() (string, error) {
	if h := flags.GetString("home"); h != "" {
		return h, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(userHome, ".tracker"), nil
}

func configPath() (string, error) {
	if c := flags.GetString("config"); c != "" {
		return c, nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, config.FileName), nil
}

func assumeYes() bool {
	return flags.GetBool("yes")
}

// annotationServer marks long-running commands that always log to stderr.
const annotationServer = "server"

func setupLogging(cmd *cobra.Command) error {
	file := flags.GetString("log-file")
	if file == "" {
		path, err := configPath()
		if err != nil {
			return err
		}
		settings, err := config.NewStore(path).Load()
		if err == nil {
			file = settings.LogFile
		}
	}
	_, server := cmd.Annotations[annotationServer]
	quiet := !server && !flags.GetBool("verbose")
	if err := logging.Setup(logging.Options{File: file, Quiet: quiet}); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	return nil
}
