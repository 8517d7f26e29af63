package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/schedule"
)

// MedicationService manages the medication catalogue.
type MedicationService struct {
	*base
}

// CreateMedication is the input of Create.
type CreateMedication struct {
	Name         string
	Dosage       string
	Frequency    string
	Instructions string
}

// MedicationSummary is a medication with its active prescription count.
type MedicationSummary struct {
	Medication          *medication.Medication
	ActivePrescriptions int
}

// MedicationDetail adds the prescriptions that use the medication.
type MedicationDetail struct {
	MedicationSummary
	Prescriptions []schedule.Entry
}

func (s *MedicationService) Create(ctx context.Context, in CreateMedication) (*MedicationSummary, error) {
	m, err := medication.New(in.Name, in.Dosage, in.Frequency, in.Instructions, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Medications().Create(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("medication created", zap.String("medication_id", m.ID.String()), zap.String("name", m.Name))
	return &MedicationSummary{Medication: m}, nil
}

// List returns medications whose name or instructions contain search.
func (s *MedicationService) List(ctx context.Context, search string) ([]MedicationSummary, error) {
	meds, err := s.store.Medications().List(ctx, search)
	if err != nil {
		return nil, err
	}
	entries, err := s.snapshot.Entries(ctx)
	if err != nil {
		return nil, err
	}
	active := make(map[uuid.UUID]int)
	for _, e := range entries {
		if e.Prescription.Active {
			active[e.Prescription.MedicationID]++
		}
	}
	out := make([]MedicationSummary, len(meds))
	for i, m := range meds {
		out[i] = MedicationSummary{Medication: m, ActivePrescriptions: active[m.ID]}
	}
	return out, nil
}

func (s *MedicationService) Get(ctx context.Context, id uuid.UUID) (*MedicationDetail, error) {
	m, err := s.store.Medications().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.snapshot.Entries(ctx)
	if err != nil {
		return nil, err
	}
	using := schedule.Filter(entries, prescription.Filter{MedicationID: &id})
	d := &MedicationDetail{MedicationSummary: MedicationSummary{Medication: m}, Prescriptions: using}
	for _, e := range using {
		if e.Prescription.Active {
			d.ActivePrescriptions++
		}
	}
	return d, nil
}

func (s *MedicationService) Update(ctx context.Context, id uuid.UUID, patch medication.Patch) (*MedicationDetail, error) {
	m, err := s.store.Medications().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.Apply(patch, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Medications().Update(ctx, m); err != nil {
		return nil, err
	}
	s.invalidate("medication updated")
	return s.Get(ctx, id)
}

// Delete removes a medication no prescription references.
func (s *MedicationService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Medications().Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate("medication deleted")
	s.logger.Info("medication deleted", zap.String("medication_id", id.String()))
	return nil
}
