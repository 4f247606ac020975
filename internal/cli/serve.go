package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwygoda/scouter/internal/app"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		port     int
		dbPath   string
		storage  string
		progress string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("db") {
				cfg.Database.Path = dbPath
			}
			if flags.Changed("storage") {
				cfg.Storage.Backend = storage
			}
			if flags.Changed("progress") {
				cfg.Progress.Backend = progress
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger.Info("starting scouter",
				"port", cfg.Server.Port,
				"database", cfg.Database.Path,
				"storage", cfg.Storage.Backend,
				"progress", cfg.Progress.Backend,
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 3000, "HTTP server port")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&storage, "storage", "", "asset storage backend: local or gcs")
	cmd.Flags().StringVar(&progress, "progress", "", "progress backend: memory or durable")
	return cmd
}
