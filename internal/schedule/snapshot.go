// Package schedule keeps the single authoritative prescription snapshot
// that every schedule and prescription listing is derived from.
//
// There is exactly one cached view. "Active prescriptions", per-member
// listings and per-date schedules are filters over it, so they can never
// disagree with each other. Any mutation invalidates the whole snapshot.
package schedule

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/familyrx/medtrack/internal/observability/metrics"
)

// Loader reads the current prescriptions with their display fields.
type Loader func(ctx context.Context) ([]Entry, error)

// Snapshot caches the result of a Loader until it is invalidated.
type Snapshot struct {
	load    Loader
	logger  *zap.Logger
	metrics *metrics.Metrics
	group   singleflight.Group

	mu         sync.Mutex
	generation uint64
	entries    []Entry
	valid      bool
}

// NewSnapshot creates an empty snapshot that fills itself from load.
func NewSnapshot(load Loader, logger *zap.Logger, m *metrics.Metrics) *Snapshot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshot{load: load, logger: logger, metrics: m}
}

// Entries returns the current snapshot, loading it if needed. Concurrent
// callers of one generation share a single load. A load that overlaps an
// Invalidate is handed to the callers that started it but never cached,
// so a read that begins after a completed mutation always sees it.
func (s *Snapshot) Entries(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	if s.valid {
		entries := s.entries
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SnapshotHits.Inc()
		}
		return entries, nil
	}
	gen := s.generation
	s.mu.Unlock()

	v, err, _ := s.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		return s.fill(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

func (s *Snapshot) fill(ctx context.Context, gen uint64) ([]Entry, error) {
	ctx, span := otel.Tracer("medtrack/schedule").Start(ctx, "schedule.snapshot.load")
	defer span.End()

	start := time.Now()
	entries, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))

	if s.metrics != nil {
		s.metrics.SnapshotLoads.Inc()
		s.metrics.SnapshotLoadDuration.Observe(time.Since(start).Seconds())
		s.metrics.ActivePrescriptions.Set(float64(countActive(entries)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.entries = entries
		s.valid = true
	} else {
		s.logger.Debug("discarding snapshot loaded across an invalidation",
			zap.Uint64("loaded_generation", gen),
			zap.Uint64("current_generation", s.generation))
	}
	return entries, nil
}

// Invalidate drops the cached snapshot. source labels the metric, for
// example "local" or "event".
func (s *Snapshot) Invalidate(source string) {
	s.mu.Lock()
	s.generation++
	s.entries = nil
	s.valid = false
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SnapshotInvalidations.WithLabelValues(source).Inc()
	}
}

// Generation is the number of invalidations so far.
func (s *Snapshot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func countActive(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Prescription.Active {
			n++
		}
	}
	return n
}
