// Package cli implements the scorebridge command tree. `serve` runs the
// daemon; every other command is a thin HTTP client against a running
// daemon's API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string
	apiBase    string
)

var rootCmd = &cobra.Command{
	Use:   "scorebridge",
	Short: "Classroom points ledger with a live spreadsheet mirror",
	Long: `ScoreBridge keeps a transactional points ledger synchronized with a
spreadsheet that teachers edit by hand. Transfers, grants, and deductions
go to the ledger; a reconciliation loop folds spreadsheet edits back in
and pushes ledger changes out, losing neither side's changes.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.scorebridge/config.toml)")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "http://127.0.0.1:8750", "Base URL of a running daemon")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// ─── Daemon API Client ──────────────────────────────────────────────────────

var apiClient = &http.Client{Timeout: 30 * time.Second}

// callAPI performs one request against the daemon and decodes the JSON
// response into out (when out is non-nil).
func callAPI(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s", apiErr.Error.Message)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
