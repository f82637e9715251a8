package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncPauseCmd)
	syncCmd.AddCommand(syncResumeCmd)
	syncCmd.AddCommand(syncDisableCmd)
	syncCmd.AddCommand(syncIntervalCmd)
	syncCmd.AddCommand(syncFailedCmd)

	syncNowCmd.Flags().StringP("group", "g", "", "Limit the pass to one group id")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and control the reconciliation loop",
}

// ─── sync status ────────────────────────────────────────────────────────────

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler mode, cadence, and pass statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status struct {
			Mode            string `json:"mode"`
			IntervalSeconds int    `json:"interval_seconds"`
			Syncing         bool   `json:"syncing"`
			PendingTasks    int    `json:"pending_tasks"`
			LastError       string `json:"last_error"`
			Stats           struct {
				Total      int    `json:"total"`
				Successful int    `json:"successful"`
				Failed     int    `json:"failed"`
				LastError  string `json:"last_error"`
			} `json:"stats"`
		}
		if err := callAPI("GET", "/api/sync/status", nil, &status); err != nil {
			return err
		}
		fmt.Printf("Mode:          %s\n", status.Mode)
		fmt.Printf("Interval:      %ds\n", status.IntervalSeconds)
		fmt.Printf("Syncing now:   %v\n", status.Syncing)
		fmt.Printf("Pending tasks: %d\n", status.PendingTasks)
		fmt.Printf("Passes:        %d total, %d ok, %d failed\n",
			status.Stats.Total, status.Stats.Successful, status.Stats.Failed)
		if status.LastError != "" {
			fmt.Printf("Last error:    %s\n", status.LastError)
		}
		return nil
	},
}

// ─── sync now ───────────────────────────────────────────────────────────────

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run one synchronous reconciliation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		var report struct {
			Applied   int `json:"applied"`
			Conflicts int `json:"conflicts"`
			Added     int `json:"added"`
			Removed   int `json:"removed"`
			Skipped   int `json:"skipped"`
			Errors    []struct {
				AccountID string `json:"account_id"`
				Error     string `json:"error"`
			} `json:"errors"`
		}
		body := map[string]string{}
		if group != "" {
			body["group_id"] = group
		}
		if err := callAPI("POST", "/api/sync/force", body, &report); err != nil {
			return err
		}
		fmt.Printf("Pushed %d, folded %d, added %d rows, removed %d rows, %d in agreement\n",
			report.Applied, report.Conflicts, report.Added, report.Removed, report.Skipped)
		for _, e := range report.Errors {
			fmt.Printf("  account %s: %s\n", e.AccountID, e.Error)
		}
		return nil
	},
}

// ─── sync pause / resume / disable ──────────────────────────────────────────

func setModeCmd(use, short, mode string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := callAPI("PUT", "/api/sync/mode", map[string]string{"mode": mode}, nil); err != nil {
				return err
			}
			fmt.Printf("Sync %s\n", mode)
			return nil
		},
	}
}

var (
	syncPauseCmd   = setModeCmd("pause", "Pause scheduled passes (manual sync still works)", "paused")
	syncResumeCmd  = setModeCmd("resume", "Resume scheduled passes", "enabled")
	syncDisableCmd = setModeCmd("disable", "Disable syncing entirely, manual passes included", "disabled")
)

// ─── sync interval ──────────────────────────────────────────────────────────

var syncIntervalCmd = &cobra.Command{
	Use:   "interval SECONDS",
	Short: "Set the pass cadence (5..3600 seconds)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("interval must be a number of seconds")
		}
		if err := callAPI("PUT", "/api/sync/interval", map[string]int{"seconds": seconds}, nil); err != nil {
			return err
		}
		fmt.Printf("Sync interval set to %ds\n", seconds)
		return nil
	},
}

// ─── sync failed ────────────────────────────────────────────────────────────

var syncFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List sync tasks that exhausted their retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Tasks []struct {
				ID        string `json:"id"`
				AccountID string `json:"account_id"`
				Direction string `json:"direction"`
				Value     int64  `json:"value"`
				Attempts  int    `json:"attempts"`
				LastError string `json:"last_error"`
			} `json:"tasks"`
		}
		if err := callAPI("GET", "/api/sync/tasks/failed", nil, &out); err != nil {
			return err
		}
		if len(out.Tasks) == 0 {
			fmt.Println("No failed tasks")
			return nil
		}
		for _, task := range out.Tasks {
			fmt.Printf("%s  %s %s value=%d attempts=%d: %s\n",
				task.ID, task.Direction, task.AccountID, task.Value, task.Attempts, task.LastError)
		}
		return nil
	},
}
