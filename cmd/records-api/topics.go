package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/infrastructure/redpanda"
)

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage the event pipeline topics",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the pipeline topics if they are missing",
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin, logger *zap.Logger, _ []string) error {
			created, err := admin.Ensure(ctx, redpanda.PipelineTopics())
			if err != nil {
				return err
			}
			logger.Info("pipeline topics ready", zap.Strings("created", created))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin, _ *zap.Logger, _ []string) error {
			topics, err := admin.List(ctx)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "describe <topic>",
		Short: "Show the partitions of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin, _ *zap.Logger, args []string) error {
			partitions, err := admin.Describe(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", args[0])
			for _, p := range partitions {
				fmt.Fprintf(cmd.OutOrStdout(), "  partition %d leader %d replicas %v isr %v\n", p.ID, p.Leader, p.Replicas, p.ISR)
			}
			return nil
		}),
	})

	lag := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag",
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin, _ *zap.Logger, _ []string) error {
			group, _ := cmd.Flags().GetString("group")
			lags, err := admin.Lag(ctx, group)
			if err != nil {
				return err
			}
			for _, l := range lags {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", l.Topic, l.Lag)
			}
			return nil
		}),
	}
	lag.Flags().String("group", redpanda.DefaultConsumerConfig().GroupID, "consumer group")
	cmd.AddCommand(lag)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <topic>...",
		Short: "Delete topics",
		Args:  cobra.MinimumNArgs(1),
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin, logger *zap.Logger, args []string) error {
			if err := admin.Delete(ctx, args...); err != nil {
				return err
			}
			logger.Info("topics deleted", zap.Strings("topics", args))
			return nil
		}),
	})

	return cmd
}

type adminFunc func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin, logger *zap.Logger, args []string) error

// withAdmin connects to the configured brokers for one topics subcommand
func withAdmin(fn adminFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
		if err != nil {
			return err
		}
		defer admin.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return fn(ctx, cmd, admin, logger, args)
	}
}
