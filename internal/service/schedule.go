package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/schedule"
)

// ScheduleService derives what is due on a date from the snapshot.
type ScheduleService struct {
	*base
}

// For returns the prescriptions applicable on date grouped by family
// member, optionally for one member only.
func (s *ScheduleService) For(ctx context.Context, date domain.Date, memberID *uuid.UUID) ([]schedule.MemberSchedule, error) {
	entries, err := s.snapshot.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if memberID != nil {
		entries = schedule.Filter(entries, prescription.Filter{FamilyMemberID: memberID})
	}
	return schedule.Derive(date, entries), nil
}

// Today is For on the current date in the service time zone.
func (s *ScheduleService) Today(ctx context.Context, memberID *uuid.UUID) (domain.Date, []schedule.MemberSchedule, error) {
	today := s.today()
	groups, err := s.For(ctx, today, memberID)
	return today, groups, err
}

// Invalidate drops the snapshot because of a change made elsewhere, for
// example by another instance.
func (s *ScheduleService) Invalidate(source string) {
	s.snapshot.Invalidate(source)
}
