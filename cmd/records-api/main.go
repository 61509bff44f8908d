// Package main provides the records API entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/api"
	"github.com/avishifo/records/internal/backend"
	"github.com/avishifo/records/internal/config"
	"github.com/avishifo/records/internal/domain/chathub"
	"github.com/avishifo/records/internal/domain/crm"
	"github.com/avishifo/records/internal/domain/events"
	"github.com/avishifo/records/internal/domain/observation"
	"github.com/avishifo/records/internal/domain/requests"
	"github.com/avishifo/records/internal/infrastructure/postgres"
	"github.com/avishifo/records/internal/observability/logging"
	"github.com/avishifo/records/internal/observability/metrics"
	"github.com/avishifo/records/internal/observability/tracing"
	"github.com/avishifo/records/internal/session"
	"github.com/avishifo/records/internal/store"
	"github.com/avishifo/records/pkg/idempotency"
)

const serviceName = "records-api"

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Patient records and clinic dashboard API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(topicsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Service:     serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tokens := session.NewTokenStore(cfg.AccessToken)
	client, err := backend.New(backend.Config{
		BaseURL:   cfg.BackendBaseURL,
		Timeout:   cfg.BackendTimeout,
		RateLimit: cfg.BackendRateLimit,
		Burst:     cfg.BackendBurst,
	}, tokens, logger, backend.WithObserver(m))
	if err != nil {
		return fmt.Errorf("create clinic api client: %w", err)
	}

	deps := api.Deps{
		Service:     serviceName,
		Board:       requests.NewBoard(),
		Chats:       chathub.NewHub(nil),
		Doctor:      client,
		Handoff:     session.NewHandoff[session.SelectedDoctor](session.DefaultHandoffTTL),
		Metrics:     m,
		Gatherer:    reg,
		Breakers:    client.Breakers(),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	}

	var sink events.Sink = events.NopSink{}
	if cfg.HasDatabase() {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		logger.Info("connected to database")

		sink = postgres.NewEventSink(pool, logger)
		deps.Activity = postgres.NewActivityLog(pool)

		replays := idempotency.NewReplayStore(pool, idempotency.DefaultReplayConfig(), logger)
		replays.StartSweeper()
		defer replays.Stop()
		deps.Replays = replays
		deps.Ready = pool.Ping
	} else {
		logger.Warn("DATABASE_URL not set; events are dropped and idempotency keys are ignored")
	}

	var storeOpts []store.Option
	storeOpts = append(storeOpts, store.WithObserver(m))
	if !cfg.OfflineFallback {
		storeOpts = append(storeOpts, store.WithoutFallback())
	}
	deps.Patients = store.New(client, sink, logger, storeOpts...)
	deps.Directory = crm.NewDirectory(sink, logger, crm.WithStatsObserver(m.ObserveCRM))

	sampler := observation.NewSampler(cfg.MetricsRefreshInterval, logger, observation.WithObserver(m.ObserveLoad))
	sampler.Start(ctx)
	defer sampler.Stop()
	deps.Sampler = sampler

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting records API",
		zap.String("port", cfg.Port),
		zap.String("backend", cfg.BackendBaseURL),
		zap.Bool("database", cfg.HasDatabase()))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
