package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(rankingCmd)
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountHistoryCmd)

	rankingCmd.Flags().StringP("group", "g", "", "Restrict the ranking to one group id")
	accountHistoryCmd.Flags().IntP("limit", "n", 50, "How many entries to show")
}

var rankingCmd = &cobra.Command{
	Use:   "ranking",
	Short: "Show student balances, highest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		path := "/api/ranking"
		if group != "" {
			path += "?group=" + url.QueryEscape(group)
		}
		var out struct {
			Ranking []struct {
				Rank     int    `json:"rank"`
				UserID   string `json:"user_id"`
				FullName string `json:"full_name"`
				Points   int64  `json:"points"`
			} `json:"ranking"`
		}
		if err := callAPI("GET", path, nil, &out); err != nil {
			return err
		}
		if len(out.Ranking) == 0 {
			fmt.Println("No active students")
			return nil
		}
		for _, e := range out.Ranking {
			fmt.Printf("%3d. %-24s %-14s %d\n", e.Rank, e.FullName, e.UserID, e.Points)
		}
		return nil
	},
}

// ─── account ────────────────────────────────────────────────────────────────

var accountCmd = &cobra.Command{
	Use:   "account ID",
	Short: "Show one account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var acc struct {
			UserID           string `json:"user_id"`
			FullName         string `json:"full_name"`
			Role             string `json:"role"`
			Status           string `json:"status"`
			GroupID          string `json:"group_id"`
			Points           int64  `json:"points"`
			LastSyncedPoints int64  `json:"last_synced_points"`
			LastSyncedAt     string `json:"last_synced_at"`
		}
		if err := callAPI("GET", "/api/accounts/"+url.PathEscape(args[0]), nil, &acc); err != nil {
			return err
		}
		fmt.Printf("User:     %s (%s)\n", acc.FullName, acc.UserID)
		fmt.Printf("Role:     %s, %s\n", acc.Role, acc.Status)
		fmt.Printf("Group:    %s\n", acc.GroupID)
		fmt.Printf("Points:   %d (synced at %d", acc.Points, acc.LastSyncedPoints)
		if acc.LastSyncedAt != "" {
			fmt.Printf(", %s", acc.LastSyncedAt)
		}
		fmt.Println(")")
		return nil
	},
}

var accountHistoryCmd = &cobra.Command{
	Use:   "history ID",
	Short: "Show an account's recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var out struct {
			History []struct {
				Kind             string `json:"kind"`
				SenderID         string `json:"sender_id"`
				RecipientID      string `json:"recipient_id"`
				Amount           int64  `json:"amount"`
				Commission       int64  `json:"commission"`
				RecipientBalance int64  `json:"recipient_balance"`
				Actor            string `json:"actor"`
				Note             string `json:"note"`
				Timestamp        string `json:"timestamp"`
			} `json:"history"`
		}
		path := fmt.Sprintf("/api/accounts/%s/history?limit=%d", url.PathEscape(args[0]), limit)
		if err := callAPI("GET", path, nil, &out); err != nil {
			return err
		}
		if len(out.History) == 0 {
			fmt.Println("No transactions")
			return nil
		}
		for _, tx := range out.History {
			switch tx.Kind {
			case "transfer":
				fmt.Printf("%s  transfer %s -> %s: %d (commission %d)\n",
					tx.Timestamp, tx.SenderID, tx.RecipientID, tx.Amount, tx.Commission)
			default:
				fmt.Printf("%s  %s %s: %d by %s", tx.Timestamp, tx.Kind, tx.RecipientID, tx.Amount, tx.Actor)
				if tx.Note != "" {
					fmt.Printf(" (%s)", tx.Note)
				}
				fmt.Println()
			}
		}
		return nil
	},
}
