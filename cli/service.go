package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serviceCmd)
}

var serviceCmd = &cobra.Command{
	Use:   "service <start|stop|restart|status|logs|enable|disable>",
	Short: "Manage the background service (not yet implemented)",
	Args:  cobra.ExactArgs(1),
	RunE:  runService,
}

func runService(cmd *cobra.Command, args []string) error {
	fmt.Printf("service %s: platform service management is not implemented yet\n", args[0])
	return nil
}
