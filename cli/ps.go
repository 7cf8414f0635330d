package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var psAddr string

func init() {
	psCmd.Flags().StringVar(&psAddr, "addr", "http://localhost:5800", "admin server address")
	rootCmd.AddCommand(psCmd)
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show the currently active model and process state",
	RunE:  runPs,
}

type poolStatusResponse struct {
	ActiveModelID    *int64 `json:"activeModelId"`
	IsProcessRunning bool   `json:"isProcessRunning"`
	Status           string `json:"status"`
}

func runPs(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(psAddr + "/api/admin/models/pool-status")
	if err != nil {
		return fmt.Errorf("contacting orchestrator: %w", err)
	}
	defer resp.Body.Close()

	var status poolStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding pool-status response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL ID\tRUNNING\tSTATUS")
	id := "none"
	if status.ActiveModelID != nil {
		id = fmt.Sprintf("%d", *status.ActiveModelID)
	}
	fmt.Fprintf(w, "%s\t%v\t%s\n", id, status.IsProcessRunning, status.Status)
	return w.Flush()
}
