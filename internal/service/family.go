package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/schedule"
)

// FamilyService manages family members.
type FamilyService struct {
	*base
}

// CreateFamilyMember is the input of Create.
type CreateFamilyMember struct {
	Name        string
	Type        family.Type
	DateOfBirth *domain.Date
	Gender      family.Gender
	Species     family.Species
}

// MemberSummary is a member with its active prescription count.
type MemberSummary struct {
	Member              *family.Member
	ActivePrescriptions int
}

// MemberDetail adds the member's prescriptions.
type MemberDetail struct {
	MemberSummary
	Prescriptions []schedule.Entry
}

func (s *FamilyService) Create(ctx context.Context, in CreateFamilyMember) (*MemberSummary, error) {
	m, err := family.New(in.Name, in.Type, in.DateOfBirth, in.Gender, in.Species, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.FamilyMembers().Create(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("family member created", zap.String("family_member_id", m.ID.String()), zap.String("type", string(m.Type)))
	return &MemberSummary{Member: m}, nil
}

func (s *FamilyService) List(ctx context.Context, f family.Filter) ([]MemberSummary, error) {
	members, err := s.store.FamilyMembers().List(ctx, f)
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
			active[e.Prescription.FamilyMemberID]++
		}
	}
	out := make([]MemberSummary, len(members))
	for i, m := range members {
		out[i] = MemberSummary{Member: m, ActivePrescriptions: active[m.ID]}
	}
	return out, nil
}

func (s *FamilyService) Get(ctx context.Context, id uuid.UUID) (*MemberDetail, error) {
	m, err := s.store.FamilyMembers().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.snapshot.Entries(ctx)
	if err != nil {
		return nil, err
	}
	owned := schedule.Filter(entries, prescription.Filter{FamilyMemberID: &id})
	d := &MemberDetail{MemberSummary: MemberSummary{Member: m}, Prescriptions: owned}
	for _, e := range owned {
		if e.Prescription.Active {
			d.ActivePrescriptions++
		}
	}
	return d, nil
}

func (s *FamilyService) Update(ctx context.Context, id uuid.UUID, patch family.Patch) (*MemberDetail, error) {
	m, err := s.store.FamilyMembers().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.Apply(patch, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.FamilyMembers().Update(ctx, m); err != nil {
		return nil, err
	}
	s.invalidate("family member updated")
	return s.Get(ctx, id)
}

// Delete removes the member together with its prescriptions and logs.
func (s *FamilyService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := startSpan(ctx, "family.delete")
	defer span.End()
	span.SetAttributes(attribute.String("family_member_id", id.String()))

	if err := s.store.FamilyMembers().Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate("family member deleted")
	s.logger.Info("family member deleted", zap.String("family_member_id", id.String()))
	return nil
}
