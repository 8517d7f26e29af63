// Package bootstrap holds the startup steps shared by the medtrack binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/config"
	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/infrastructure/memory"
	"github.com/familyrx/medtrack/internal/infrastructure/postgres"
	"github.com/familyrx/medtrack/internal/infrastructure/sqlite"
	"github.com/familyrx/medtrack/internal/logging"
	"github.com/familyrx/medtrack/internal/observability/tracing"
	"github.com/familyrx/medtrack/internal/store"
)

// Runtime is the configuration, logger and tracer of one process.
type Runtime struct {
	Config  *config.Config
	Logger  *zap.Logger
	Tracing *tracing.Provider
}

// Init loads the configuration and starts logging and tracing for service.
func Init(ctx context.Context, service, version string) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return WithConfig(ctx, cfg, service, version)
}

// WithConfig is Init for an already loaded configuration.
func WithConfig(ctx context.Context, cfg *config.Config, service, version string) (*Runtime, error) {
	logger, err := logging.New(cfg.Log, cfg.IsDevelopment())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger = logger.With(zap.String("service", service))

	tp, err := tracing.Init(ctx, tracing.FromConfig(cfg, service, version))
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}
	if tp.Enabled() {
		logger.Info("tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}
	return &Runtime{Config: cfg, Logger: logger, Tracing: tp}, nil
}

// Shutdown flushes spans and logs.
func (rt *Runtime) Shutdown(ctx context.Context) {
	if err := rt.Tracing.Shutdown(ctx); err != nil {
		rt.Logger.Warn("tracing shutdown failed", zap.Error(err))
	}
	_ = rt.Logger.Sync()
}

// OpenStore opens the backend named by cfg.Database.Type. SQLite applies
// its migrations on open; Postgres expects `medtrackctl migrate up`.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	logger = logger.With(zap.String("database_type", cfg.Database.Type))

	var (
		st  store.Store
		err error
	)
	switch cfg.Database.Type {
	case store.KindPostgres:
		st, err = postgres.Open(ctx, cfg.Database.URL, cfg.Events.Topic, logger)
	case store.KindSQLite:
		st, err = sqlite.Open(cfg.Database.URL, logger)
	case store.KindMemory:
		st = memory.New()
	default:
		err = fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")
	return st, nil
}

// IsTerminal reports whether err is a client error that a retry with the
// same request would repeat.
func IsTerminal(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidRange) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict)
}
