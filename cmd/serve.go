package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inboundops/triage/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage HTTP server",
	Long:  `Starts the HTTP server exposing the triage API, follow-up conversations and knowledge base uploads.`,
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

		pipe, sessions, ingestor, err := buildEngine(cfg, database)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(server.Config{Port: cfg.Port, AllowAll: serveAllowAll}, pipe, sessions, ingestor)
		return srv.Start(ctx)
	},
}

var serveAllowAll bool

func init() {
	serveCmd.Flags().BoolVar(&serveAllowAll, "allow-all-origins", false, "allow CORS requests from any origin")
	rootCmd.AddCommand(serveCmd)
}
