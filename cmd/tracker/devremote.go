package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdlta/tracker/internal/devremote"
	"github.com/cdlta/tracker/internal/logging"
	"github.com/cdlta/tracker/internal/schema"
	"github.com/cdlta/tracker/internal/ui"
)

var devremoteCmd = &cobra.Command{
	Use:         "devremote",
	GroupID:     "advanced",
	Short:       "Run a local stand-in for the remote endpoint",
	Annotations: map[string]string{annotationServer: ""},
	Long: `Serve GET ?route=students and POST ?route=transactions locally, with the
same txn_id de-duplication as the real remote. Point api_base at the printed
URL to develop or demo without the deployed sheet.

--students seeds the roster from a JSON array of
{"student_id","full_name","status"} objects.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		studentsFile, _ := cmd.Flags().GetString("students")

		srv := devremote.New(logging.New("devremote"))
		if studentsFile != "" {
			data, err := os.ReadFile(studentsFile)
			if err != nil {
				return fmt.Errorf("failed to read students: %w", err)
			}
			var students []*schema.Student
			if err := json.Unmarshal(data, &students); err != nil {
				return fmt.Errorf("failed to parse %s: %w", studentsFile, err)
			}
			srv.SetStudents(students)
			fmt.Printf("Loaded %d students\n", len(students))
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			}
		}()

		fmt.Printf("%s Dev remote on http://%s/exec\n", ui.RenderAccent("→"), ln.Addr())
		fmt.Printf("   tracker config set api_base http://%s/exec\n", ln.Addr())
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		fmt.Printf("\nApplied %d transactions (%d duplicates ignored)\n", len(srv.AppliedIDs()), srv.Duplicates())
		return nil
	},
}

func init() {
	devremoteCmd.Flags().String("addr", "127.0.0.1:8787", "Listen address")
	devremoteCmd.Flags().String("students", "", "JSON file with the student roster")
	rootCmd.AddCommand(devremoteCmd)
}
