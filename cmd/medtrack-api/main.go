// Package main provides the medtrack HTTP API entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/api"
	"github.com/familyrx/medtrack/internal/bootstrap"
	"github.com/familyrx/medtrack/internal/infrastructure/postgres"
	"github.com/familyrx/medtrack/internal/infrastructure/redpanda"
	"github.com/familyrx/medtrack/internal/observability/metrics"
	"github.com/familyrx/medtrack/internal/service"
	"github.com/familyrx/medtrack/pkg/idempotency"
)

var version = "dev"

func main() {
	ctx := context.Background()

	rt, err := bootstrap.Init(ctx, "medtrack-api", version)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	cfg, logger := rt.Config, rt.Logger

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	st, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	m := metrics.New(nil)
	svc := service.New(st, service.Options{
		Logger:   logger.Named("service"),
		Metrics:  m,
		Policy:   cfg.PrescriptionPolicy(),
		Location: loc,
	})

	opts := api.Options{
		Services: svc,
		Store:    st,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Version:  version,
	}

	// Idempotency-Key needs the shared idempotency_keys table.
	if pg, ok := st.(*postgres.Store); ok {
		keysCfg := idempotency.DefaultConfig()
		keysCfg.IsTerminal = bootstrap.IsTerminal
		keys := idempotency.NewStore(pg.Pool(), keysCfg, logger.Named("idempotency"))
		sweepCtx, stopSweep := context.WithCancel(ctx)
		defer stopSweep()
		go keys.RunSweeper(sweepCtx)
		opts.Dedup = keys
	}

	// Other instances' changes arrive over the broker.
	if len(cfg.Events.Brokers) > 0 {
		consumerCfg := redpanda.DefaultConsumerConfig()
		consumerCfg.Brokers = cfg.Events.Brokers
		consumerCfg.GroupID = cfg.Events.ConsumerGroup
		consumerCfg.Topics = []string{cfg.Events.Topic}

		consumer, err := redpanda.NewConsumer(consumerCfg,
			redpanda.NewEventHandler(svc.Schedule, logger.Named("events")), m, logger.Named("consumer"))
		if err != nil {
			logger.Fatal("failed to create consumer", zap.Error(err))
		}
		consumeCtx, stopConsumer := context.WithCancel(ctx)
		consumed := make(chan struct{})
		go func() {
			defer close(consumed)
			if err := consumer.Run(consumeCtx); err != nil {
				logger.Error("consumer stopped", zap.Error(err))
			}
		}()
		defer func() {
			stopConsumer()
			<-consumed
		}()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

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

	logger.Info("starting medtrack API",
		zap.String("addr", server.Addr),
		zap.String("environment", cfg.Env),
		zap.String("database_type", st.Kind()),
		zap.String("version", version))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt.Shutdown(shutdownCtx)
	logger.Info("server stopped")
}
