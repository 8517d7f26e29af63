// Package api assembles the HTTP surface of medtrack.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/api/handlers"
	"github.com/familyrx/medtrack/internal/api/middleware"
	"github.com/familyrx/medtrack/internal/config"
	"github.com/familyrx/medtrack/internal/observability/metrics"
	"github.com/familyrx/medtrack/internal/service"
	"github.com/familyrx/medtrack/internal/store"
)

// Options carries everything the router needs.
type Options struct {
	Services *service.Services
	Store    store.Store
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// Dedup honours Idempotency-Key on log creation when set.
	Dedup   handlers.Deduplicator
	Version string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewRouter builds the chi router with the global middleware, the health
// endpoints and the /api resources.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}

	deps := handlers.Deps{
		Services: opts.Services,
		Logger:   logger,
		Location: loc,
		Now:      opts.Now,
	}
	health := handlers.NewHealthHandler(opts.Store, opts.Version, cfg.Env, logger)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Observe("medtrack-api", logger, opts.Metrics))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Get("/live", health.Live)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.Server.RateLimit))
		r.Use(middleware.APIKeyAuth(cfg.Server.APIKeys))
		r.Mount("/family-members", handlers.NewFamilyMemberHandler(deps).Routes())
		r.Mount("/medications", handlers.NewMedicationHandler(deps).Routes())
		r.Mount("/prescriptions", handlers.NewPrescriptionHandler(deps).Routes())
		r.Mount("/schedule", handlers.NewScheduleHandler(deps).Routes())
		r.Mount("/medication-logs", handlers.NewMedicationLogHandler(deps, opts.Dedup).Routes())
	})

	r.NotFound(handlers.NotFound)
	return r
}
