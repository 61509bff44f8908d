// Package main provides the outbox relay entry point. It publishes the
// events recorded in the Postgres outbox to Redpanda.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/config"
	"github.com/avishifo/records/internal/infrastructure/postgres"
	"github.com/avishifo/records/internal/infrastructure/redpanda"
	"github.com/avishifo/records/internal/observability/logging"
	"github.com/avishifo/records/internal/observability/metrics"
	"github.com/avishifo/records/internal/observability/tracing"
)

const (
	serviceName = "outbox-relay"
	// processed entries older than this are removed
	retention       = 7 * 24 * time.Hour
	cleanupInterval = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if !cfg.HasDatabase() {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Service:     serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Create Redpanda producer
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.PollInterval = cfg.OutboxPollInterval
	relay := postgres.NewRelay(pool, producer, outboxCfg, m, logger)
	relay.Start()

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	go cleanupLoop(cleanupCtx, relay, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      adminRouter(pool, relay, producer, reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("admin server error", zap.Error(err))
		}
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	stopCleanup()
	relay.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	producer.Close(10 * time.Second)
	server.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}

func cleanupLoop(ctx context.Context, relay *postgres.Relay, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := relay.CleanupProcessed(ctx, retention)
			if err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("outbox cleaned up", zap.Int64("removed", n))
			}
		}
	}
}

// adminRouter serves health, outbox stats and metrics
func adminRouter(pool *pgxpool.Pool, relay *postgres.Relay, producer *redpanda.Producer, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"outbox-relay"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := producer.Ping(req.Context()); err != nil {
			http.Error(w, "broker unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
	})
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := relay.Stats(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"outbox":   stats,
			"producer": producer.Stats(),
		})
	})
	r.Handle("/metrics", metrics.Handler(reg))
	return r
}
