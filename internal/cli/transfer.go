package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(deductCmd)

	grantCmd.Flags().String("actor", "teacher", "Acting teacher's user id")
	grantCmd.Flags().String("note", "", "Reason recorded in the ledger")
	deductCmd.Flags().String("actor", "teacher", "Acting teacher's user id")
	deductCmd.Flags().String("note", "", "Reason recorded in the ledger")
}

// ─── transfer ───────────────────────────────────────────────────────────────

var transferCmd = &cobra.Command{
	Use:   "transfer SENDER RECIPIENT AMOUNT",
	Short: "Move points between two students, commission deducted from the sender",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("amount must be a whole number of points")
		}
		var rec struct {
			ID               string `json:"id"`
			Amount           int64  `json:"amount"`
			Commission       int64  `json:"commission"`
			SenderBalance    int64  `json:"sender_balance"`
			RecipientBalance int64  `json:"recipient_balance"`
		}
		body := map[string]interface{}{
			"sender_id":    args[0],
			"recipient_id": args[1],
			"amount":       amount,
		}
		if err := callAPI("POST", "/api/transfer", body, &rec); err != nil {
			return err
		}
		fmt.Printf("Transferred %d points (commission %d)\n", rec.Amount, rec.Commission)
		fmt.Printf("  %s: %d\n", args[0], rec.SenderBalance)
		fmt.Printf("  %s: %d\n", args[1], rec.RecipientBalance)
		return nil
	},
}

// ─── grant / deduct ─────────────────────────────────────────────────────────

func adjustRun(path, verb string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount must be a whole number of points")
		}
		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("note")
		var out struct {
			AccountID string `json:"account_id"`
			Balance   int64  `json:"balance"`
		}
		body := map[string]interface{}{"actor": actor, "amount": amount, "note": note}
		if err := callAPI("POST", fmt.Sprintf("/api/accounts/%s/%s", args[0], path), body, &out); err != nil {
			return err
		}
		fmt.Printf("%s %d points, %s now at %d\n", verb, amount, out.AccountID, out.Balance)
		return nil
	}
}

var grantCmd = &cobra.Command{
	Use:   "grant ACCOUNT AMOUNT",
	Short: "Credit points to a student",
	Args:  cobra.ExactArgs(2),
	RunE:  adjustRun("grant", "Granted"),
}

var deductCmd = &cobra.Command{
	Use:   "deduct ACCOUNT AMOUNT",
	Short: "Debit points from a student",
	Args:  cobra.ExactArgs(2),
	RunE:  adjustRun("deduct", "Deducted"),
}
