package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger is the store health probe.
type Pinger interface {
	Ping(ctx context.Context) error
	Kind() string
}

// HealthHandler serves /health, /ready and /live.
type HealthHandler struct {
	store       Pinger
	version     string
	environment string
	started     time.Time
	logger      *zap.Logger
}

func NewHealthHandler(store Pinger, version, environment string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		store:       store,
		version:     version,
		environment: environment,
		started:     time.Now(),
		logger:      logger,
	}
}

type healthStatus struct {
	Status      string         `json:"status"`
	Timestamp   string         `json:"timestamp"`
	Uptime      float64        `json:"uptime"`
	Database    databaseStatus `json:"database"`
	Version     string         `json:"version"`
	Environment string         `json:"environment"`
}

type databaseStatus struct {
	Connected bool   `json:"connected"`
	Type      string `json:"type"`
}

func (h *HealthHandler) ping(r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	return h.store.Ping(ctx)
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, Envelope{Message: "Service Unavailable", Error: "Database not connected"})
		return
	}
	ok(w, healthStatus{
		Status:      "healthy",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Uptime:      time.Since(h.started).Seconds(),
		Database:    databaseStatus{Connected: true, Type: h.store.Kind()},
		Version:     h.version,
		Environment: h.environment,
	}, "Health check passed")
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Envelope{Message: "Not Ready", Error: "Database not connected"})
		return
	}
	ok(w, map[string]bool{"ready": true}, "Service is ready")
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]bool{"alive": true}, "Service is alive")
}
