package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Read and change settings",
	Long: `Read and change settings stored in <home>/config.yaml.

Keys:
  api_base           remote endpoint base URL
  staff_id           staff member recording on this device
  probe_url          URL probed for connectivity (default: api_base)
  probe_interval     how often the daemon probes, e.g. 15s
  sync.coalesce      share one in-flight sync between callers
  sync.auto_refresh  download the students list the first time online
  log.file           rotated log file

Environment variables override the file: TRACKER_API_BASE, TRACKER_STAFF_ID,
TRACKER_SYNC_COALESCE and so on.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := settingsStore()
		if err != nil {
			return err
		}
		v, err := st.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := settingsStore()
		if err != nil {
			return err
		}
		if err := st.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s %s saved to %s\n", ui.RenderPass("✓"), args[0], st.Path())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := settingsStore()
		if err != nil {
			return err
		}
		settings, err := st.Load()
		if err != nil {
			return err
		}
		out, err := settings.YAML()
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n%s", st.Path(), out)
		return nil
	},
}

func settingsStore() (*config.Store, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.NewStore(path), nil
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
