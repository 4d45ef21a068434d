package main

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Upload every queued transaction",
	Long: `Upload the whole local queue to the remote in one batch.

Records are removed locally only after the remote acknowledges the batch.
Transactions recorded while the upload is in progress stay queued for the
next sync. The remote de-duplicates on txn_id, so a batch re-sent after a
lost acknowledgement is harmless.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			a.probe(ctx)
			return printSyncResult(a.engine.Sync(ctx))
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	GroupID: "sync",
	Short:   "Replace the local students list with the remote's",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			a.probe(ctx)
			return runRefresh(a, cmd)
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(refreshCmd)
}
