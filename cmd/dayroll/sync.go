package main

import (
	"errors"
	"fmt"
	"time"

	"dayroll/internal/models"
	"dayroll/internal/syncer"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync with the remote copy",
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status",
	RunE:  runStatus,
}

var syncDirection string

func init() {
	syncCmd.Flags().StringVar(&syncDirection, "direction", string(models.SyncUpload), "upload, download or bidirectional")
}

func runSync(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		report, err := a.syncer.Sync(cmd.Context(), models.SyncDirection(syncDirection))
		if errors.Is(err, syncer.ErrLocalOnly) {
			fmt.Fprintln(cmd.OutOrStdout(), "Local-only: no remote provider or identity configured")
			return nil
		}
		if jsonOutput && report != nil {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else if report != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Sync %s via %s: %d day(s) ok, %d failed\n",
				report.Direction, report.Provider, report.DaysOK, report.DaysFailed)
		}
		return err
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		st := a.syncer.GetSyncStatus()
		dirty := a.syncer.DirtyDays()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"status": st, "state": st.State(), "dirty_days": dirty})
		}

		last := "never"
		if st.LastSyncTimestamp != nil {
			last = st.LastSyncTimestamp.Local().Format(time.RFC3339)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Provider:   %s\n", a.cfg.Sync.Provider)
		fmt.Fprintf(out, "State:      %s\n", st.State())
		fmt.Fprintf(out, "Last sync:  %s\n", last)
		fmt.Fprintf(out, "Dirty days: %d\n", len(dirty))

		runs, err := a.db.ListSyncRuns(cmd.Context(), 5)
		if err != nil {
			return err
		}
		for _, r := range runs {
			result := "ok"
			if !r.OK {
				result = "failed"
			}
			fmt.Fprintf(out, "  %s  %-13s %-6s %d ok / %d failed\n",
				r.StartedAt.Local().Format(time.RFC3339), r.Direction, result, r.DaysOK, r.DaysFailed)
		}
		return nil
	})
}
