package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/schedule"
)

// PrescriptionService applies the prescription lifecycle rules.
type PrescriptionService struct {
	*base
	policy prescription.Policy
}

// CreatePrescription is the input of Create.
type CreatePrescription struct {
	FamilyMemberID uuid.UUID
	MedicationID   uuid.UUID
	StartDate      domain.Date
	EndDate        *domain.Date
	Active         *bool
}

// PrescriptionSummary is a joined prescription with its log count.
type PrescriptionSummary struct {
	schedule.Entry
	LogCount int
}

// PrescriptionDetail adds the prescription's logs.
type PrescriptionDetail struct {
	PrescriptionSummary
	Logs []*medlog.Log
}

// Policy reports the lifecycle policy in force.
func (s *PrescriptionService) Policy() prescription.Policy { return s.policy }

// Create validates the referenced member and medication, the date range
// and the one-active-per-pair rule, then stores the prescription.
func (s *PrescriptionService) Create(ctx context.Context, in CreatePrescription) (*PrescriptionDetail, error) {
	ctx, span := startSpan(ctx, "prescription.create")
	defer span.End()

	member, err := s.store.FamilyMembers().Get(ctx, in.FamilyMemberID)
	if err != nil {
		return nil, err
	}
	med, err := s.store.Medications().Get(ctx, in.MedicationID)
	if err != nil {
		return nil, err
	}

	p, err := prescription.New(in.FamilyMemberID, in.MedicationID, in.StartDate, in.EndDate, in.Active, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Prescriptions().Create(ctx, p); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.invalidate("prescription created")
	s.metrics.PrescriptionChanged(string(domain.EventPrescriptionCreated))
	span.SetAttributes(attribute.String("prescription_id", p.ID.String()))

	s.logger.Info("prescription created",
		zap.String("prescription_id", p.ID.String()),
		zap.String("family_member_id", p.FamilyMemberID.String()),
		zap.String("medication_id", p.MedicationID.String()),
		zap.Bool("active", p.Active))

	return &PrescriptionDetail{PrescriptionSummary: PrescriptionSummary{Entry: schedule.Entry{
		Prescription: p,
		Member:       schedule.MemberRefOf(member),
		Medication:   schedule.MedicationRefOf(med),
	}}}, nil
}

// List filters the snapshot. Listing all and listing active prescriptions
// read the same snapshot, so the two can never disagree.
func (s *PrescriptionService) List(ctx context.Context, f prescription.Filter) ([]PrescriptionSummary, error) {
	entries, err := s.snapshot.Entries(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.MedicationLogs().CountByPrescription(ctx)
	if err != nil {
		return nil, err
	}
	matched := schedule.Filter(entries, f)
	out := make([]PrescriptionSummary, len(matched))
	for i, e := range matched {
		out[i] = PrescriptionSummary{Entry: e, LogCount: counts[e.Prescription.ID]}
	}
	return out, nil
}

// Get returns the prescription read from the store, joined and with its logs.
func (s *PrescriptionService) Get(ctx context.Context, id uuid.UUID) (*PrescriptionDetail, error) {
	p, err := s.store.Prescriptions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, p)
}

func (s *PrescriptionService) detail(ctx context.Context, p *prescription.Prescription) (*PrescriptionDetail, error) {
	member, err := s.store.FamilyMembers().Get(ctx, p.FamilyMemberID)
	if err != nil {
		return nil, err
	}
	med, err := s.store.Medications().Get(ctx, p.MedicationID)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.MedicationLogs().List(ctx, medlog.Filter{PrescriptionID: &p.ID})
	if err != nil {
		return nil, err
	}
	return &PrescriptionDetail{
		PrescriptionSummary: PrescriptionSummary{
			Entry: schedule.Entry{
				Prescription: p,
				Member:       schedule.MemberRefOf(member),
				Medication:   schedule.MedicationRefOf(med),
			},
			LogCount: len(logs),
		},
		Logs: logs,
	}, nil
}

// Update applies a partial update. Reactivation through active=true only
// re-checks uniqueness when the policy asks for it.
func (s *PrescriptionService) Update(ctx context.Context, id uuid.UUID, patch prescription.Patch) (*PrescriptionDetail, error) {
	ctx, span := startSpan(ctx, "prescription.update")
	defer span.End()
	span.SetAttributes(attribute.String("prescription_id", id.String()))

	p, err := s.store.Prescriptions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reactivating := p.Reactivates(patch)
	if err := p.Apply(patch, s.policy, s.now()); err != nil {
		return nil, err
	}
	checkUnique := reactivating && s.policy.EnforceUniqueOnReactivate
	if err := s.store.Prescriptions().Update(ctx, p, checkUnique); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.invalidate("prescription updated")
	s.metrics.PrescriptionChanged(string(domain.EventPrescriptionUpdated))

	if reactivating {
		s.logger.Info("prescription reactivated", zap.String("prescription_id", id.String()))
	}
	return s.detail(ctx, p)
}

// Deactivate turns the prescription off and ends it today. Deactivating
// an inactive prescription succeeds.
func (s *PrescriptionService) Deactivate(ctx context.Context, id uuid.UUID) (*PrescriptionDetail, error) {
	ctx, span := startSpan(ctx, "prescription.deactivate")
	defer span.End()
	span.SetAttributes(attribute.String("prescription_id", id.String()))

	p, err := s.store.Prescriptions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Deactivate(s.today(), s.now())
	if err := s.store.Prescriptions().Update(ctx, p, false); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.invalidate("prescription deactivated")
	s.metrics.PrescriptionChanged(string(domain.EventPrescriptionDeactivated))
	s.logger.Info("prescription deactivated",
		zap.String("prescription_id", id.String()),
		zap.Stringer("end_date", p.EndDate))
	return s.detail(ctx, p)
}

// Delete removes the prescription and its logs.
func (s *PrescriptionService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := startSpan(ctx, "prescription.delete")
	defer span.End()
	span.SetAttributes(attribute.String("prescription_id", id.String()))

	p, err := s.store.Prescriptions().Get(ctx, id)
	if err != nil {
		return err
	}
	p.MarkDeleted()
	if err := s.store.Prescriptions().Delete(ctx, p); err != nil {
		span.RecordError(err)
		return err
	}
	s.invalidate("prescription deleted")
	s.metrics.PrescriptionChanged(string(domain.EventPrescriptionDeleted))
	s.logger.Info("prescription deleted", zap.String("prescription_id", id.String()))
	return nil
}
