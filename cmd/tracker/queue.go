package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/queue"
	"github.com/cdlta/tracker/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "record",
	Short:   "Inspect, export or clear the local queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued transactions in recording order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			txns, err := a.queue.List(ctx)
			if err != nil {
				return err
			}
			if len(txns) == 0 {
				fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
				return nil
			}
			for _, t := range txns {
				qty := ""
				if t.Quantity != nil {
					qty = fmt.Sprintf("x%d", *t.Quantity)
				}
				fmt.Printf("%s  %-11s %-16s %-5s %-10s %s\n",
					ui.RenderMuted(t.Timestamp), t.Action, t.RefID, qty, t.StudentID, ui.RenderMuted(t.ID))
			}
			fmt.Printf("\n%d queued\n", len(txns))
			return nil
		})
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the queue to a dated JSON file",
	Long: `Write every queued transaction, exactly as stored, to
cdlta_queue_YYYY-MM-DD.json. The queue itself is not changed.

Use --stdout to print the JSON instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		toStdout, _ := cmd.Flags().GetBool("stdout")

		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			if toStdout {
				records, err := a.queue.ExportAll(ctx)
				if err != nil {
					return err
				}
				data, err := queue.MarshalExport(records)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			}

			path, err := a.queue.WriteExport(ctx, dir, time.Now())
			if err != nil {
				return err
			}
			size, err := a.queue.Size(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Exported %d transactions to %s\n", ui.RenderPass("✓"), size, path)
			return nil
		})
	},
}

var queueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Queue the transactions from an export file",
	Long: `Queue every transaction in an export file. Records already queued with the
same txn_id are overwritten, so importing a file twice is harmless.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			n, err := a.queue.Import(ctx, args[0])
			if err != nil {
				return err
			}
			size, err := a.queue.Size(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Imported %d transactions (%d queued)\n", ui.RenderPass("✓"), n, size)
			return nil
		})
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every queued transaction from this device",
	Long: `Delete every queued transaction from this device. Transactions that were
never uploaded are lost. Export first if in doubt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			size, err := a.queue.Size(ctx)
			if err != nil {
				return err
			}
			if size == 0 {
				fmt.Printf("%s Queue is already empty\n", ui.RenderPass("✓"))
				return nil
			}

			ok, err := ui.Confirm(
				fmt.Sprintf("Clear ALL %d queued transactions from this device?", size),
				"This cannot be undone.",
				assumeYes(),
			)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled")
				return nil
			}

			if err := a.queue.PurgeAll(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Purged %d transactions\n", ui.RenderWarn("⚠"), size)
			return nil
		})
	},
}

func init() {
	queueExportCmd.Flags().String("dir", ".", "Directory to write the export file to")
	queueExportCmd.Flags().Bool("stdout", false, "Print the export instead of writing a file")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueExportCmd)
	queueCmd.AddCommand(queueImportCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}
