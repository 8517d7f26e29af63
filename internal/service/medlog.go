package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/schedule"
)

// MedicationLogService records dose events and reports compliance.
type MedicationLogService struct {
	*base
	prescriptions *PrescriptionService
	schedule      *ScheduleService
}

// CreateMedicationLog is the input of Create.
type CreateMedicationLog struct {
	PrescriptionID uuid.UUID
	ScheduledTime  time.Time
	TakenTime      *time.Time
	Status         medlog.Status
	Notes          string
}

// LogDetail is a log joined with its prescription.
type LogDetail struct {
	Log   *medlog.Log
	Entry schedule.Entry
}

// DailySchedule is everything due and logged on one date.
type DailySchedule struct {
	Date    domain.Date
	Logs    []LogDetail
	Due     []schedule.MemberSchedule
	Summary DailySummary
}

// DailySummary counts the day's logs. Pending counts applicable
// prescriptions with no log on the day.
type DailySummary struct {
	Total   int `json:"total"`
	Taken   int `json:"taken"`
	Missed  int `json:"missed"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`
}

// Compliance is the compliance report of a window.
type Compliance struct {
	medlog.Stats
	Days  int
	Grade string
}

// Create records a dose event against an existing prescription.
func (s *MedicationLogService) Create(ctx context.Context, in CreateMedicationLog) (*LogDetail, error) {
	ctx, span := startSpan(ctx, "medication_log.create")
	defer span.End()

	if _, err := s.store.Prescriptions().Get(ctx, in.PrescriptionID); err != nil {
		return nil, err
	}
	l, err := medlog.New(in.PrescriptionID, in.ScheduledTime, in.Status, in.TakenTime, in.Notes, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.MedicationLogs().Create(ctx, l); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.LogTransition(string(l.Status))
	span.SetAttributes(attribute.String("medication_log_id", l.ID.String()))
	return s.join(ctx, l)
}

func (s *MedicationLogService) Get(ctx context.Context, id uuid.UUID) (*LogDetail, error) {
	l, err := s.store.MedicationLogs().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, l)
}

// List returns the logs matching f, joined with their prescriptions.
// Filtering by prescription fails with NotFound for an unknown id.
func (s *MedicationLogService) List(ctx context.Context, f medlog.Filter) ([]LogDetail, error) {
	if f.PrescriptionID != nil {
		if _, err := s.store.Prescriptions().Get(ctx, *f.PrescriptionID); err != nil {
			return nil, err
		}
	}
	logs, err := s.store.MedicationLogs().List(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.joinAll(ctx, logs)
}

// Update applies a generic partial update.
func (s *MedicationLogService) Update(ctx context.Context, id uuid.UUID, patch medlog.Patch) (*LogDetail, error) {
	return s.mutate(ctx, id, func(l *medlog.Log) error {
		return l.Apply(patch, s.now())
	})
}

// MarkAsTaken records the dose as taken at takenTime, or now.
func (s *MedicationLogService) MarkAsTaken(ctx context.Context, id uuid.UUID, takenTime *time.Time) (*LogDetail, error) {
	return s.mutate(ctx, id, func(l *medlog.Log) error {
		l.MarkTaken(takenTime, s.now())
		return nil
	})
}

// MarkAsMissed records the dose as missed and clears its taken time.
func (s *MedicationLogService) MarkAsMissed(ctx context.Context, id uuid.UUID) (*LogDetail, error) {
	return s.mutate(ctx, id, func(l *medlog.Log) error {
		l.MarkMissed(s.now())
		return nil
	})
}

// MarkAsSkipped records the dose as skipped, replacing notes when given.
func (s *MedicationLogService) MarkAsSkipped(ctx context.Context, id uuid.UUID, notes *string) (*LogDetail, error) {
	return s.mutate(ctx, id, func(l *medlog.Log) error {
		l.MarkSkipped(notes, s.now())
		return nil
	})
}

func (s *MedicationLogService) mutate(ctx context.Context, id uuid.UUID, fn func(*medlog.Log) error) (*LogDetail, error) {
	l, err := s.store.MedicationLogs().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(l); err != nil {
		return nil, err
	}
	if err := s.store.MedicationLogs().Update(ctx, l); err != nil {
		return nil, err
	}
	s.metrics.LogTransition(string(l.Status))
	s.logger.Debug("medication log updated",
		zap.String("medication_log_id", id.String()),
		zap.String("status", string(l.Status)))
	return s.join(ctx, l)
}

func (s *MedicationLogService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.MedicationLogs().Delete(ctx, id)
}

// Daily returns the logs scheduled on date, the prescriptions due that day
// and the summary. memberID narrows both to one family member.
func (s *MedicationLogService) Daily(ctx context.Context, date domain.Date, memberID *uuid.UUID) (*DailySchedule, error) {
	ctx, span := startSpan(ctx, "medication_log.daily")
	defer span.End()
	span.SetAttributes(attribute.String("date", date.String()))

	from := date.In(s.loc)
	to := date.AddDays(1).In(s.loc).Add(-time.Nanosecond)
	logs, err := s.store.MedicationLogs().List(ctx, medlog.Filter{FamilyMemberID: memberID, From: &from, To: &to})
	if err != nil {
		return nil, err
	}
	details, err := s.joinAll(ctx, logs)
	if err != nil {
		return nil, err
	}
	due, err := s.schedule.For(ctx, date, memberID)
	if err != nil {
		return nil, err
	}

	day := &DailySchedule{Date: date, Logs: details, Due: due}
	logged := make(map[uuid.UUID]bool, len(logs))
	for _, l := range logs {
		logged[l.PrescriptionID] = true
		day.Summary.Total++
		switch l.Status {
		case medlog.StatusTaken:
			day.Summary.Taken++
		case medlog.StatusMissed:
			day.Summary.Missed++
		case medlog.StatusSkipped:
			day.Summary.Skipped++
		}
	}
	for _, g := range due {
		for _, e := range g.Entries {
			if !logged[e.Prescription.ID] {
				day.Summary.Pending++
			}
		}
	}
	return day, nil
}

// Today is Daily for the current date in the service time zone.
func (s *MedicationLogService) Today(ctx context.Context, memberID *uuid.UUID) (*DailySchedule, error) {
	return s.Daily(ctx, s.today(), memberID)
}

// ComplianceStats reports compliance over the last days days, optionally
// for one family member. Non-positive days use the 30 day default.
func (s *MedicationLogService) ComplianceStats(ctx context.Context, memberID *uuid.UUID, days int) (*Compliance, error) {
	ctx, span := startSpan(ctx, "medication_log.compliance")
	defer span.End()

	if days <= 0 {
		days = medlog.DefaultWindowDays
	}
	from, to := medlog.Window(s.now(), days)
	logs, err := s.store.MedicationLogs().List(ctx, medlog.Filter{FamilyMemberID: memberID, From: &from, To: &to})
	if err != nil {
		return nil, err
	}
	stats := medlog.ComputeStats(logs)
	span.SetAttributes(attribute.Int("days", days), attribute.Float64("compliance_rate", stats.ComplianceRate))
	return &Compliance{Stats: stats, Days: days, Grade: medlog.Grade(stats.ComplianceRate)}, nil
}

func (s *MedicationLogService) join(ctx context.Context, l *medlog.Log) (*LogDetail, error) {
	joined, err := s.joinAll(ctx, []*medlog.Log{l})
	if err != nil {
		return nil, err
	}
	return &joined[0], nil
}

// joinAll attaches the snapshot entry of each log's prescription.
func (s *MedicationLogService) joinAll(ctx context.Context, logs []*medlog.Log) ([]LogDetail, error) {
	index, err := s.entryIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LogDetail, len(logs))
	for i, l := range logs {
		e, ok := index[l.PrescriptionID]
		if !ok {
			// The snapshot predates the prescription; read it directly.
			detail, err := s.prescriptions.Get(ctx, l.PrescriptionID)
			if err != nil {
				return nil, err
			}
			e = detail.Entry
		}
		out[i] = LogDetail{Log: l, Entry: e}
	}
	return out, nil
}
