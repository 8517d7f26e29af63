package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/schedule"
	"github.com/familyrx/medtrack/internal/service"
)

// FamilyMemberView is the API form of a family member.
type FamilyMemberView struct {
	ID                       uuid.UUID      `json:"id"`
	Name                     string         `json:"name"`
	Type                     family.Type    `json:"type"`
	DateOfBirth              *domain.Date   `json:"dateOfBirth,omitempty"`
	Age                      *int           `json:"age,omitempty"`
	Gender                   family.Gender  `json:"gender,omitempty"`
	Species                  family.Species `json:"species,omitempty"`
	ActivePrescriptionsCount int            `json:"activePrescriptionsCount"`
	CreatedAt                time.Time      `json:"createdAt"`
	UpdatedAt                time.Time      `json:"updatedAt"`
}

// FamilyMemberDetailView adds the member's prescriptions.
type FamilyMemberDetailView struct {
	FamilyMemberView
	Prescriptions []MemberPrescriptionView `json:"prescriptions"`
}

// MemberPrescriptionView is a prescription as listed under its member.
type MemberPrescriptionView struct {
	ID         uuid.UUID              `json:"id"`
	Medication schedule.MedicationRef `json:"medication"`
	StartDate  domain.Date            `json:"startDate"`
	EndDate    *domain.Date           `json:"endDate,omitempty"`
	Active     bool                   `json:"active"`
}

// MedicationView is the API form of a medication.
type MedicationView struct {
	ID                       uuid.UUID `json:"id"`
	Name                     string    `json:"name"`
	Dosage                   string    `json:"dosage"`
	Frequency                string    `json:"frequency"`
	Instructions             string    `json:"instructions,omitempty"`
	ActivePrescriptionsCount int       `json:"activePrescriptionsCount"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// MedicationDetailView adds the prescriptions that use the medication.
type MedicationDetailView struct {
	MedicationView
	Prescriptions []MedicationPrescriptionView `json:"prescriptions"`
}

// MedicationPrescriptionView is a prescription as listed under its medication.
type MedicationPrescriptionView struct {
	ID           uuid.UUID          `json:"id"`
	FamilyMember schedule.MemberRef `json:"familyMember"`
	StartDate    domain.Date        `json:"startDate"`
	EndDate      *domain.Date       `json:"endDate,omitempty"`
	Active       bool               `json:"active"`
}

// PrescriptionView is the API form of a prescription.
type PrescriptionView struct {
	ID           uuid.UUID              `json:"id"`
	FamilyMember schedule.MemberRef     `json:"familyMember"`
	Medication   schedule.MedicationRef `json:"medication"`
	StartDate    domain.Date            `json:"startDate"`
	EndDate      *domain.Date           `json:"endDate,omitempty"`
	Active       bool                   `json:"active"`
	LogCount     int                    `json:"logCount"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// PrescriptionDetailView adds the prescription's logs.
type PrescriptionDetailView struct {
	PrescriptionView
	MedicationLogs []PrescriptionLogView `json:"medicationLogs"`
}

// PrescriptionLogView is a log as listed under its prescription.
type PrescriptionLogView struct {
	ID            uuid.UUID     `json:"id"`
	ScheduledTime time.Time     `json:"scheduledTime"`
	TakenTime     *time.Time    `json:"takenTime,omitempty"`
	Status        medlog.Status `json:"status"`
	Notes         string        `json:"notes,omitempty"`
}

// MedicationLogView is the API form of a dose event.
type MedicationLogView struct {
	ID            uuid.UUID       `json:"id"`
	Prescription  LogPrescription `json:"prescription"`
	ScheduledTime time.Time       `json:"scheduledTime"`
	TakenTime     *time.Time      `json:"takenTime,omitempty"`
	Status        medlog.Status   `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	IsLate        bool            `json:"isLate"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// LogPrescription is the prescription embedded in a log view.
type LogPrescription struct {
	ID           uuid.UUID              `json:"id"`
	FamilyMember schedule.MemberRef     `json:"familyMember"`
	Medication   schedule.MedicationRef `json:"medication"`
}

// ScheduleView is the derived schedule of one date.
type ScheduleView struct {
	Date     domain.Date          `json:"date"`
	Schedule []MemberScheduleView `json:"schedule"`
}

// MemberScheduleView lists what one member is due to take.
type MemberScheduleView struct {
	FamilyMember  schedule.MemberRef    `json:"familyMember"`
	Prescriptions []DuePrescriptionView `json:"prescriptions"`
}

// DuePrescriptionView is an applicable prescription in a schedule.
type DuePrescriptionView struct {
	ID         uuid.UUID              `json:"id"`
	Medication schedule.MedicationRef `json:"medication"`
	StartDate  domain.Date            `json:"startDate"`
	EndDate    *domain.Date           `json:"endDate,omitempty"`
}

// DailyScheduleView is the logged and due doses of one date.
type DailyScheduleView struct {
	Date     domain.Date          `json:"date"`
	Logs     []MedicationLogView  `json:"logs"`
	Schedule []MemberScheduleView `json:"schedule"`
	Summary  service.DailySummary `json:"summary"`
}

// ComplianceView is the compliance report of a window.
type ComplianceView struct {
	Period          string  `json:"period"`
	TotalLogs       int     `json:"totalLogs"`
	TakenCount      int     `json:"takenCount"`
	MissedCount     int     `json:"missedCount"`
	SkippedCount    int     `json:"skippedCount"`
	ComplianceRate  float64 `json:"complianceRate"`
	ComplianceGrade string  `json:"complianceGrade"`
}

func memberView(s service.MemberSummary, today domain.Date) FamilyMemberView {
	m := s.Member
	v := FamilyMemberView{
		ID:                       m.ID,
		Name:                     m.Name,
		Type:                     m.Type,
		DateOfBirth:              m.DateOfBirth,
		Gender:                   m.Gender,
		Species:                  m.Species,
		ActivePrescriptionsCount: s.ActivePrescriptions,
		CreatedAt:                m.CreatedAt,
		UpdatedAt:                m.UpdatedAt,
	}
	if age, ok := m.Age(today); ok {
		v.Age = &age
	}
	return v
}

func memberDetailView(d *service.MemberDetail, today domain.Date) FamilyMemberDetailView {
	v := FamilyMemberDetailView{
		FamilyMemberView: memberView(d.MemberSummary, today),
		Prescriptions:    make([]MemberPrescriptionView, len(d.Prescriptions)),
	}
	for i, e := range d.Prescriptions {
		p := e.Prescription
		v.Prescriptions[i] = MemberPrescriptionView{
			ID:         p.ID,
			Medication: e.Medication,
			StartDate:  p.StartDate,
			EndDate:    p.EndDate,
			Active:     p.Active,
		}
	}
	return v
}

func medicationView(s service.MedicationSummary) MedicationView {
	m := s.Medication
	return MedicationView{
		ID:                       m.ID,
		Name:                     m.Name,
		Dosage:                   m.Dosage,
		Frequency:                m.Frequency,
		Instructions:             m.Instructions,
		ActivePrescriptionsCount: s.ActivePrescriptions,
		CreatedAt:                m.CreatedAt,
		UpdatedAt:                m.UpdatedAt,
	}
}

func medicationDetailView(d *service.MedicationDetail) MedicationDetailView {
	v := MedicationDetailView{
		MedicationView: medicationView(d.MedicationSummary),
		Prescriptions:  make([]MedicationPrescriptionView, len(d.Prescriptions)),
	}
	for i, e := range d.Prescriptions {
		p := e.Prescription
		v.Prescriptions[i] = MedicationPrescriptionView{
			ID:           p.ID,
			FamilyMember: e.Member,
			StartDate:    p.StartDate,
			EndDate:      p.EndDate,
			Active:       p.Active,
		}
	}
	return v
}

func prescriptionView(s service.PrescriptionSummary) PrescriptionView {
	p := s.Prescription
	return PrescriptionView{
		ID:           p.ID,
		FamilyMember: s.Member,
		Medication:   s.Medication,
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		Active:       p.Active,
		LogCount:     s.LogCount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func prescriptionDetailView(d *service.PrescriptionDetail) PrescriptionDetailView {
	v := PrescriptionDetailView{
		PrescriptionView: prescriptionView(d.PrescriptionSummary),
		MedicationLogs:   make([]PrescriptionLogView, len(d.Logs)),
	}
	for i, l := range d.Logs {
		v.MedicationLogs[i] = PrescriptionLogView{
			ID:            l.ID,
			ScheduledTime: l.ScheduledTime,
			TakenTime:     l.TakenTime,
			Status:        l.Status,
			Notes:         l.Notes,
		}
	}
	return v
}

func logView(d service.LogDetail) MedicationLogView {
	l := d.Log
	return MedicationLogView{
		ID: l.ID,
		Prescription: LogPrescription{
			ID:           d.Entry.Prescription.ID,
			FamilyMember: d.Entry.Member,
			Medication:   d.Entry.Medication,
		},
		ScheduledTime: l.ScheduledTime,
		TakenTime:     l.TakenTime,
		Status:        l.Status,
		Notes:         l.Notes,
		IsLate:        l.IsLate(),
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

func logViews(ds []service.LogDetail) []MedicationLogView {
	out := make([]MedicationLogView, len(ds))
	for i, d := range ds {
		out[i] = logView(d)
	}
	return out
}

func scheduleViews(groups []schedule.MemberSchedule) []MemberScheduleView {
	out := make([]MemberScheduleView, len(groups))
	for i, g := range groups {
		due := make([]DuePrescriptionView, len(g.Entries))
		for j, e := range g.Entries {
			due[j] = DuePrescriptionView{
				ID:         e.Prescription.ID,
				Medication: e.Medication,
				StartDate:  e.Prescription.StartDate,
				EndDate:    e.Prescription.EndDate,
			}
		}
		out[i] = MemberScheduleView{FamilyMember: g.Member, Prescriptions: due}
	}
	return out
}

func dailyView(d *service.DailySchedule) DailyScheduleView {
	return DailyScheduleView{
		Date:     d.Date,
		Logs:     logViews(d.Logs),
		Schedule: scheduleViews(d.Due),
		Summary:  d.Summary,
	}
}

func complianceView(c *service.Compliance) ComplianceView {
	return ComplianceView{
		Period:          medlog.Period(c.Days),
		TotalLogs:       c.TotalLogs,
		TakenCount:      c.TakenCount,
		MissedCount:     c.MissedCount,
		SkippedCount:    c.SkippedCount,
		ComplianceRate:  c.ComplianceRate,
		ComplianceGrade: c.Grade,
	}
}

// MemberComplianceView is one row of the household compliance report.
type MemberComplianceView struct {
	FamilyMember schedule.MemberRef `json:"familyMember"`
	ComplianceView
}

func complianceReportView(rows []service.MemberCompliance) []MemberComplianceView {
	out := make([]MemberComplianceView, len(rows))
	for i, row := range rows {
		out[i] = MemberComplianceView{
			FamilyMember:   schedule.MemberRefOf(row.Member),
			ComplianceView: complianceView(row.Compliance),
		}
	}
	return out
}
