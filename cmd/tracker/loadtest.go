package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/loadtest"
	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Exercise the queue and sync engine under concurrent load",
	Long: `Enqueue transactions from several writers while several syncers run
overlapping syncs against an in-process remote, then check that every
transaction was applied exactly once and the queue drained.

A throwaway store is used; your own queue is not touched.

Examples:
  tracker loadtest
  tracker loadtest --writers 8 --per-writer 100 --syncers 4 --coalesce
  tracker loadtest --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		writers, _ := cmd.Flags().GetInt("writers")
		perWriter, _ := cmd.Flags().GetInt("per-writer")
		syncers, _ := cmd.Flags().GetInt("syncers")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if writers <= 0 || perWriter <= 0 || syncers <= 0 {
			return fmt.Errorf("--writers, --per-writer and --syncers must be positive")
		}

		dir, err := os.MkdirTemp("", "tracker-loadtest-")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		report, err := loadtest.Run(cmd.Context(), loadtest.Options{
			StorePath: filepath.Join(dir, storeFile),
			Writers:   writers,
			PerWriter: perWriter,
			Syncers:   syncers,
			Coalesce:  flags.GetBool("coalesce"),
			Logger:    logging.New("loadtest"),
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			report.Enqueue.Durations = nil
			report.Sync.Durations = nil
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			fmt.Printf("Enqueued %d, applied %d, %d re-sent duplicates over %d batches in %v\n\n",
				report.Enqueued, report.Applied, report.Duplicates, report.Batches, report.Elapsed)
			report.Enqueue.Print(os.Stdout, "Enqueue latency")
			fmt.Println()
			report.Sync.Print(os.Stdout, "Sync latency")
			fmt.Println()
		}

		if err := report.Verify(); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Printf("%s Every transaction applied exactly once, queue drained\n", ui.RenderPass("✓"))
		}
		return nil
	},
}

func init() {
	loadtestCmd.Flags().Int("writers", 4, "Concurrent writers")
	loadtestCmd.Flags().Int("per-writer", 50, "Transactions per writer")
	loadtestCmd.Flags().Int("syncers", 3, "Concurrent syncers")
	loadtestCmd.Flags().Bool("json", false, "Output the report as JSON")
	rootCmd.AddCommand(loadtestCmd)
}
