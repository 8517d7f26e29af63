// Package medlog reconciles individual dose events against their
// prescriptions and computes compliance over a window.
package medlog

import (
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
)

const entity = "Medication log"

// Status is the outcome of a scheduled dose.
type Status string

const (
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSkipped Status = "skipped"
	// StatusPending is never stored. Daily schedules use it for applicable
	// prescriptions that have no log yet.
	StatusPending Status = "pending"
)

// Valid reports whether s may be stored.
func (s Status) Valid() bool {
	return s == StatusTaken || s == StatusMissed || s == StatusSkipped
}

// Log is a single dose event.
type Log struct {
	ID             uuid.UUID  `json:"id"`
	PrescriptionID uuid.UUID  `json:"prescriptionId"`
	ScheduledTime  time.Time  `json:"scheduledTime"`
	TakenTime      *time.Time `json:"takenTime,omitempty"`
	Status         Status     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Patch is a generic partial update.
type Patch struct {
	TakenTime *time.Time
	Status    *Status
	Notes     *string
}

// Filter narrows log listings. Nil fields do not filter; From and To are
// inclusive bounds on ScheduledTime.
type Filter struct {
	PrescriptionID *uuid.UUID
	FamilyMemberID *uuid.UUID
	From           *time.Time
	To             *time.Time
}

// InWindow reports whether l was scheduled within the filter's bounds.
func (f Filter) InWindow(l *Log) bool {
	if f.From != nil && l.ScheduledTime.Before(*f.From) {
		return false
	}
	if f.To != nil && l.ScheduledTime.After(*f.To) {
		return false
	}
	return true
}

// New creates a log. Status defaults to taken, and a taken dose without a
// taken time is stamped with now.
func New(prescriptionID uuid.UUID, scheduled time.Time, status Status, taken *time.Time, notes string, now time.Time) (*Log, error) {
	if status == "" {
		status = StatusTaken
	}
	if !status.Valid() {
		return nil, domain.Invalid(entity, "Status must be one of taken, missed, skipped")
	}
	l := &Log{
		ID:             uuid.New(),
		PrescriptionID: prescriptionID,
		ScheduledTime:  scheduled,
		TakenTime:      taken,
		Status:         status,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if l.Status == StatusTaken && l.TakenTime == nil {
		l.TakenTime = &now
	}
	return l, nil
}

// Apply sets every supplied field. A log that ends up taken without a
// taken time is stamped with now; missed and skipped logs never keep one.
func (l *Log) Apply(p Patch, now time.Time) error {
	if p.Status != nil && !p.Status.Valid() {
		return domain.Invalid(entity, "Status must be one of taken, missed, skipped")
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.TakenTime != nil {
		t := *p.TakenTime
		l.TakenTime = &t
	}
	if p.Notes != nil {
		l.Notes = *p.Notes
	}
	switch l.Status {
	case StatusTaken:
		if l.TakenTime == nil {
			l.TakenTime = &now
		}
	case StatusMissed, StatusSkipped:
		l.TakenTime = nil
	}
	l.UpdatedAt = now
	return nil
}

// MarkTaken records the dose as taken at the given time, or now.
func (l *Log) MarkTaken(at *time.Time, now time.Time) {
	taken := now
	if at != nil {
		taken = *at
	}
	l.Status = StatusTaken
	l.TakenTime = &taken
	l.UpdatedAt = now
}

// MarkMissed records the dose as missed.
func (l *Log) MarkMissed(now time.Time) {
	l.Status = StatusMissed
	l.TakenTime = nil
	l.UpdatedAt = now
}

// MarkSkipped records the dose as skipped, replacing notes when given.
func (l *Log) MarkSkipped(notes *string, now time.Time) {
	l.Status = StatusSkipped
	l.TakenTime = nil
	if notes != nil {
		l.Notes = *notes
	}
	l.UpdatedAt = now
}

// IsLate is true for a dose taken after its scheduled time.
func (l *Log) IsLate() bool {
	return l.Status == StatusTaken && l.TakenTime != nil && l.TakenTime.After(l.ScheduledTime)
}
