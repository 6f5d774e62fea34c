package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions known to a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		url := fmt.Sprintf("http://%s/api/sessions", cfg.HTTP.Listen)
		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("is the daemon running? %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon returned status %d", resp.StatusCode)
		}

		var sessions []struct {
			SessionID   string    `json:"sessionID"`
			LastUpdate  time.Time `json:"lastUpdate"`
			Messages    int       `json:"messages"`
			Pending     int       `json:"pendingPermissions"`
			Subscribers int       `json:"subscribers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
			return fmt.Errorf("decode sessions: %w", err)
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stdout, "No sessions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tMESSAGES\tPENDING\tSUBSCRIBERS\tLAST UPDATE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
				s.SessionID, s.Messages, s.Pending, s.Subscribers,
				s.LastUpdate.Format(time.RFC3339))
		}
		return w.Flush()
	},
}
