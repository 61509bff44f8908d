package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/infrastructure/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if !cfg.HasDatabase() {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			n, err := postgres.Migrate(ctx, pool, logger)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", zap.Int("applied", n))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the bundled migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, err := postgres.Migrations()
			if err != nil {
				return err
			}
			for _, m := range migrations {
				fmt.Fprintf(cmd.OutOrStdout(), "%03d  %s\n", m.Version, m.Name)
			}
			return nil
		},
	})
	return cmd
}
