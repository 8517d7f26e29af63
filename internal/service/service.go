// Package service wires the domain rules to a store. Every mutation that
// can change a schedule invalidates the shared snapshot before returning.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/observability/metrics"
	"github.com/familyrx/medtrack/internal/schedule"
	"github.com/familyrx/medtrack/internal/store"
)

var tracer = otel.Tracer("medtrack/service")

// Options configures the services.
type Options struct {
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Policy   prescription.Policy
	Location *time.Location
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Services groups the application services over one store.
type Services struct {
	FamilyMembers  *FamilyService
	Medications    *MedicationService
	Prescriptions  *PrescriptionService
	MedicationLogs *MedicationLogService
	Schedule       *ScheduleService
	Snapshot       *schedule.Snapshot
}

// base is embedded by every service.
type base struct {
	store    store.Store
	snapshot *schedule.Snapshot
	logger   *zap.Logger
	metrics  *metrics.Metrics
	loc      *time.Location
	clock    func() time.Time
}

func (b *base) now() time.Time { return b.clock().In(b.loc) }

func (b *base) today() domain.Date { return domain.Today(b.clock(), b.loc) }

// invalidate drops the snapshot after a completed mutation.
func (b *base) invalidate(reason string) {
	b.snapshot.Invalidate("local")
	b.logger.Debug("schedule snapshot invalidated", zap.String("reason", reason))
}

// entryIndex returns the snapshot indexed by prescription id.
func (b *base) entryIndex(ctx context.Context) (map[uuid.UUID]schedule.Entry, error) {
	entries, err := b.snapshot.Entries(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[uuid.UUID]schedule.Entry, len(entries))
	for _, e := range entries {
		index[e.Prescription.ID] = e
	}
	return index, nil
}

// New builds the services over st.
func New(st store.Store, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	snap := schedule.NewSnapshot(Loader(st), opts.Logger.Named("snapshot"), opts.Metrics)
	b := &base{
		store:    st,
		snapshot: snap,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		loc:      opts.Location,
		clock:    opts.Now,
	}

	prescriptions := &PrescriptionService{base: b, policy: opts.Policy}
	sched := &ScheduleService{base: b}
	return &Services{
		FamilyMembers:  &FamilyService{base: b},
		Medications:    &MedicationService{base: b},
		Prescriptions:  prescriptions,
		MedicationLogs: &MedicationLogService{base: b, prescriptions: prescriptions, schedule: sched},
		Schedule:       sched,
		Snapshot:       snap,
	}
}

// Loader reads the authoritative snapshot from st.
func Loader(st store.Store) schedule.Loader {
	return func(ctx context.Context) ([]schedule.Entry, error) {
		ps, err := st.Prescriptions().List(ctx, prescription.Filter{})
		if err != nil {
			return nil, fmt.Errorf("failed to load prescriptions: %w", err)
		}
		members, err := st.FamilyMembers().List(ctx, family.Filter{})
		if err != nil {
			return nil, fmt.Errorf("failed to load family members: %w", err)
		}
		meds, err := st.Medications().List(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load medications: %w", err)
		}
		return schedule.Join(ps, members, meds), nil
	}
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
