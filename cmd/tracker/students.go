package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/refresh"
	"github.com/cdlta/tracker/internal/schema"
	"github.com/cdlta/tracker/internal/ui"
)

var studentsCmd = &cobra.Command{
	Use:     "students",
	GroupID: "record",
	Short:   "Browse the local students list",
}

var studentsSearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "List cached students whose id or name contains text",
	Long: `List cached students whose id or name contains text (case-insensitive).
With no text every student is listed.

If the list has never been downloaded and the remote is reachable you are
offered a refresh first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		search := ""
		if len(args) == 1 {
			search = args[0]
		}
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			if err := offerFirstRefresh(a, cmd); err != nil {
				return err
			}

			students, err := a.db.ListStudents(ctx)
			if err != nil {
				return err
			}
			matches := schema.FilterStudents(students, search)
			if len(matches) == 0 {
				fmt.Printf("%s No students match %q (%d cached)\n", ui.RenderWarn("⚠"), search, len(students))
				return nil
			}
			for _, s := range matches {
				status := s.Status
				if status != schema.StatusActive {
					status = ui.RenderMuted(status)
				}
				fmt.Printf("%-12s %-32s %s\n", s.ID, s.Name, status)
			}
			fmt.Printf("\n%d of %d students\n", len(matches), len(students))
			return nil
		})
	},
}

// offerFirstRefresh prompts once for the initial student download.
func offerFirstRefresh(a *app, cmd *cobra.Command) error {
	ctx := cmd.Context()
	settings, err := a.settings.Load()
	if err != nil {
		return err
	}
	if !settings.AutoRefresh || settings.APIBase == "" {
		return nil
	}
	needed, err := refresh.NeedsFirstRefresh(ctx, a.db)
	if err != nil || !needed {
		return err
	}
	if !a.probe(ctx) {
		return nil
	}

	ok, err := ui.Confirm("Refresh student list now?", "Recommended for offline use.", assumeYes())
	if err != nil || !ok {
		// Declined, or no terminal to ask on.
		return nil
	}
	return runRefresh(a, cmd)
}

// runRefresh downloads the students list and records the first-run flag.
func runRefresh(a *app, cmd *cobra.Command) error {
	ctx := cmd.Context()
	res, err := a.refresher.Refresh(ctx)
	if err != nil {
		return err
	}
	if err := refresh.MarkRefreshed(ctx, a.db); err != nil {
		return err
	}
	fmt.Printf("%s Students refreshed: %d\n", ui.RenderPass("✓"), res.Stored)
	if res.Skipped > 0 {
		fmt.Printf("   %d records without a student_id were skipped\n", res.Skipped)
	}
	return nil
}

func init() {
	studentsCmd.AddCommand(studentsSearchCmd)
	rootCmd.AddCommand(studentsCmd)
}
