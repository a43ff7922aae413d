package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Agentic triage for inbound customer email",
	Long: `Triage classifies inbound customer emails into Sales and Support
intents, grounds every decision in reference data and knowledge base
evidence, and produces an auditable confidence-scored trace. It serves
an HTTP API for triage runs and grounded follow-up conversations.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".triage.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
