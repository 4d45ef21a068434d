package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/refresh"
	"github.com/cdlta/tracker/internal/store"
	"github.com/cdlta/tracker/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queue, students, connectivity and device",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			settings, err := a.settings.Load()
			if err != nil {
				return err
			}
			deviceID, err := a.ids.DeviceID(ctx)
			if err != nil {
				return err
			}
			queued, err := a.db.CountQueue(ctx)
			if err != nil {
				return err
			}
			students, err := a.db.CountStudents(ctx)
			if err != nil {
				return err
			}
			version, err := a.db.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			needsRefresh, _ := refresh.NeedsFirstRefresh(ctx, a.db)

			net := ui.RenderFail("offline")
			if settings.Probe() == "" {
				net = ui.RenderMuted("unknown (no endpoint)")
			} else if a.probe(ctx) {
				net = ui.RenderPass("online")
			}

			fmt.Printf("\n%s\n", ui.RenderBold("Tracker status"))
			fmt.Printf("   Network:   %s\n", net)
			fmt.Printf("   Device:    %s\n", deviceID)
			fmt.Printf("   Staff:     %s\n", orUnset(settings.StaffID))
			fmt.Printf("   Endpoint:  %s\n", orUnset(settings.APIBase))
			fmt.Printf("   Queued:    %d\n", queued)
			fmt.Printf("   Students:  %d\n", students)
			fmt.Printf("   Store:     %s (schema v%d of %d)\n", a.db.Path(), version, store.CurrentSchemaVersion)
			if needsRefresh {
				fmt.Printf("\n%s Students list has never been downloaded. Run 'tracker refresh' when online.\n", ui.RenderWarn("⚠"))
			}
			fmt.Println()
			return nil
		})
	},
}

func orUnset(s string) string {
	if s == "" {
		return ui.RenderMuted("(not set)")
	}
	return s
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
