package cmd

import (
	"github.com/spf13/cobra"

	"github.com/inboundops/triage/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize triage configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the triage engine and generates a .triage.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
