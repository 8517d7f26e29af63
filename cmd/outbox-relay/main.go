// Package main provides the outbox relay entry point. It drains the
// Postgres outbox into Redpanda so every API instance sees every change.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/bootstrap"
	"github.com/familyrx/medtrack/internal/infrastructure/postgres"
	"github.com/familyrx/medtrack/internal/infrastructure/redpanda"
	"github.com/familyrx/medtrack/internal/observability/metrics"
	"github.com/familyrx/medtrack/internal/store"
	"github.com/familyrx/medtrack/pkg/circuitbreaker"
)

var version = "dev"

const (
	maintenanceInterval = time.Minute
	deliveredRetention  = 7 * 24 * time.Hour
)

func main() {
	ctx := context.Background()

	rt, err := bootstrap.Init(ctx, "outbox-relay", version)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	cfg, logger := rt.Config, rt.Logger

	if cfg.Database.Type != store.KindPostgres {
		logger.Fatal("outbox relay requires DATABASE_TYPE=postgres", zap.String("database_type", cfg.Database.Type))
	}
	if len(cfg.Events.Brokers) == 0 {
		logger.Fatal("outbox relay requires REDPANDA_BROKERS")
	}

	pg, err := postgres.Open(ctx, cfg.Database.URL, cfg.Events.Topic, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pg.Close()
	logger.Info("connected to database")

	admin, err := redpanda.NewAdmin(cfg.Events.Brokers, logger.Named("admin"))
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.Ping(ctx); err != nil {
		logger.Fatal("redpanda unreachable", zap.Strings("brokers", cfg.Events.Brokers), zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx, cfg.Events.Topic); err != nil {
		logger.Fatal("topic setup failed", zap.Error(err))
	}
	admin.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Events.Brokers
	producer, err := redpanda.NewProducer(producerCfg, m, logger.Named("producer"))
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Events.Brokers))

	breakerCfg := circuitbreaker.DefaultConfig("redpanda")
	breakerCfg.StateGauge = m.CircuitBreakerState
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}

	relayCfg := postgres.DefaultRelayConfig()
	relayCfg.BatchSize = cfg.Events.BatchSize
	relayCfg.PollInterval = cfg.Events.PollInterval
	relayCfg.DeadLetterTopic = cfg.Events.Topic + redpanda.DeadLetterSuffix
	relayCfg.Unavailable = circuitbreaker.IsRejected
	relay := postgres.NewRelay(pg.Pool(), redpanda.NewGuardedPublisher(producer, breaker), relayCfg, logger.Named("relay"))

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(runCtx); err != nil {
			logger.Error("relay stopped", zap.Error(err))
		}
	}()
	go maintain(runCtx, relay, m, logger)

	metricsServer := &http.Server{Addr: cfg.Addr(), Handler: m.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("outbox relay started", zap.String("topic", cfg.Events.Topic), zap.String("metrics_addr", cfg.Addr()))

	<-runCtx.Done()
	logger.Info("shutting down")
	<-relayDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	stats := producer.Stats()
	logger.Info("outbox relay stopped",
		zap.Int64("messages_sent", stats.Sent),
		zap.Int64("bytes_sent", stats.Bytes),
		zap.Int64("errors", stats.Failures),
		zap.String("breaker_state", string(breaker.State())))
	rt.Shutdown(shutdownCtx)
}

// maintain prunes delivered rows and reports the backlog.
func maintain(ctx context.Context, relay *postgres.Relay, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := relay.Prune(ctx, deliveredRetention); err != nil {
			logger.Error("outbox prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned delivered outbox events", zap.Int64("count", n))
		}

		backlog, err := relay.Backlog(ctx)
		if err != nil {
			logger.Error("outbox backlog failed", zap.Error(err))
			continue
		}
		m.OutboxPending.Set(float64(backlog.Pending()))
		if backlog.OldestPending != nil && time.Since(*backlog.OldestPending) > maintenanceInterval {
			logger.Warn("outbox falling behind",
				zap.Int64("due", backlog.Due),
				zap.Int64("waiting", backlog.Waiting),
				zap.Time("oldest_pending", *backlog.OldestPending))
		}
	}
}
