package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inboundops/triage/internal/evidence"
	"github.com/inboundops/triage/internal/progress"
)

var loadCmd = &cobra.Command{
	Use:   "load <dir>",
	Short: "Load reference data from CSV files",
	Long: `Loads customers, products, subscriptions, orders, policies and tickets
from CSV files in the given directory into the triage database. Each
table is replaced wholesale, so repeated loads are idempotent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		store := evidence.NewStore(database)
		reporter := progress.NewReporter()
		started := false

		stats, err := store.LoadCSVDir(cmd.Context(), args[0], func(done, total int, table string) {
			if !started {
				reporter.Start(total, "Loading reference data")
				started = true
			}
			reporter.Update(done, table)
		})
		if started {
			reporter.Finish()
		}
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Printf("No CSV files found in %s\n", args[0])
			return nil
		}

		for _, st := range stats {
			fmt.Printf("  %-18s %d rows\n", st.Table, st.Rows)
		}
		fmt.Printf("Loaded %d tables from %s\n", len(stats), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
