package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/identity"
	"github.com/cdlta/tracker/internal/schema"
	"github.com/cdlta/tracker/internal/store"
	"github.com/cdlta/tracker/internal/syncer"
	"github.com/cdlta/tracker/internal/ui"
)

var recordCmd = &cobra.Command{
	Use:     "record <action> <ref-id>",
	GroupID: "record",
	Short:   "Record a transaction in the local queue",
	Long: `Record one transaction. It is written to the local queue first and, when
the remote is reachable, uploaded straight away.

Actions:
  ISSUE_BOOK  (ISSUE)   lend a book to a student; --student is required
  RETURN_BOOK (RETURN)  take a book back
  CONSUME               use up stock; --qty is required
  RESTOCK               add stock; --qty is required
  ADJUST                correct a stock count; --qty is required

Examples:
  tracker record issue B-1042 --student S-0007
  tracker record consume PAPER-A4 --qty 3 --notes "Room 4"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := schema.ParseAction(args[0])
		if err != nil {
			return err
		}
		qty, _ := cmd.Flags().GetInt("qty")
		studentID, _ := cmd.Flags().GetString("student")
		notes, _ := cmd.Flags().GetString("notes")
		staffID, _ := cmd.Flags().GetString("staff")
		noSync, _ := cmd.Flags().GetBool("no-sync")

		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			settings, err := a.settings.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(staffID) == "" {
				staffID = settings.StaffID
			}
			if strings.TrimSpace(staffID) == "" {
				return errors.New("staff ID is required: set it with 'tracker config set staff_id <id>' or pass --staff")
			}

			deviceID, err := a.ids.DeviceID(ctx)
			if err != nil {
				return err
			}

			txn := &schema.Transaction{
				ID:       identity.NewTransactionID(),
				DeviceID: deviceID,
				StaffID:  staffID,
				Action:   action,
				RefID:    args[1],
				Notes:    notes,
			}
			if action.NeedsQuantity() {
				txn.Quantity = schema.Qty(qty)
			}

			studentID = strings.TrimSpace(studentID)
			if studentID != "" {
				student, err := a.db.GetStudent(ctx, studentID)
				switch {
				case err == nil:
					txn.StudentID = student.ID
					txn.StudentName = student.Name
				case errors.Is(err, store.ErrNotFound):
					return fmt.Errorf("student %s is not in the local list; run 'tracker refresh' or 'tracker students search'", studentID)
				default:
					return err
				}
			}

			txn.SetDefaults(time.Now())
			if err := txn.Validate(); err != nil {
				return err
			}
			if err := a.queue.Enqueue(ctx, txn); err != nil {
				return err
			}

			size, err := a.queue.Size(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Recorded %s %s (%s)\n", ui.RenderPass("✓"), txn.Action, txn.RefID, ui.RenderMuted(txn.ID))
			if txn.StudentName != "" {
				fmt.Printf("   Student: %s (%s)\n", txn.StudentName, txn.StudentID)
			}

			if noSync || !a.probe(ctx) {
				fmt.Printf("   %d queued for upload\n", size)
				return nil
			}

			// Opportunistic upload; the record is already safe locally.
			res, err := a.engine.Sync(ctx)
			var pre *syncer.PreconditionError
			switch {
			case errors.As(err, &pre):
				fmt.Printf("   %d queued for upload (%s)\n", size, pre.Message)
			case err != nil:
				fmt.Printf("%s Upload failed, %d queued: %v\n", ui.RenderWarn("⚠"), size, err)
			default:
				fmt.Printf("   Uploaded, %d remaining\n", res.Remaining)
			}
			return nil
		})
	},
}

func init() {
	recordCmd.Flags().IntP("qty", "q", 1, "Quantity for CONSUME, RESTOCK and ADJUST")
	recordCmd.Flags().StringP("student", "s", "", "Student ID (required for ISSUE_BOOK)")
	recordCmd.Flags().StringP("notes", "n", "", "Free-form notes")
	recordCmd.Flags().String("staff", "", "Staff ID for this record (default: staff_id setting)")
	recordCmd.Flags().Bool("no-sync", false, "Only queue, do not try to upload")
	rootCmd.AddCommand(recordCmd)
}
