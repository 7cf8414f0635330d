package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scalytics/core-orchestrator/config"
	"github.com/scalytics/core-orchestrator/store"
)

var listConfigPath string

func init() {
	listCmd.Flags().StringVar(&listConfigPath, "config", "config.yaml", "config file path")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered models",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(listConfigPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	models, err := db.ListModels()
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	if len(models) == 0 {
		fmt.Println("No models registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFORMAT\tACTIVE\tEMBEDDING")
	for _, m := range models {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%v\n", m.ID, m.Name, m.ModelFormat, m.IsActive, m.IsEmbeddingModel)
	}
	return w.Flush()
}
