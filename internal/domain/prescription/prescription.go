// Package prescription implements the prescription lifecycle rules and the
// applicability predicate schedules are derived from.
package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
)

const entity = "Prescription"

// Prescription is a standing order linking one family member to one
// medication over a date range.
type Prescription struct {
	ID             uuid.UUID    `json:"id"`
	FamilyMemberID uuid.UUID    `json:"familyMemberId"`
	MedicationID   uuid.UUID    `json:"medicationId"`
	StartDate      domain.Date  `json:"startDate"`
	EndDate        *domain.Date `json:"endDate,omitempty"`
	Active         bool         `json:"active"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`

	changes []*domain.Event
}

// Patch is a partial update: every non-nil field is set verbatim.
type Patch struct {
	StartDate *domain.Date
	EndDate   *domain.Date
	Active    *bool
}

// Policy selects how strictly updates are re-validated.
type Policy struct {
	// EnforceUniqueOnReactivate re-checks the one-active-per-pair rule when
	// an update turns a prescription back on.
	EnforceUniqueOnReactivate bool
	// ValidateMergedRange checks the stored date range merged with the
	// patch, even when only one of the two dates is supplied.
	ValidateMergedRange bool
}

// Filter narrows prescription listings. Nil fields do not filter.
type Filter struct {
	FamilyMemberID *uuid.UUID
	MedicationID   *uuid.UUID
	Active         *bool
}

// Matches reports whether p passes f.
func (f Filter) Matches(p *Prescription) bool {
	if f.FamilyMemberID != nil && p.FamilyMemberID != *f.FamilyMemberID {
		return false
	}
	if f.MedicationID != nil && p.MedicationID != *f.MedicationID {
		return false
	}
	if f.Active != nil && p.Active != *f.Active {
		return false
	}
	return true
}

// ValidateRange requires end, when present, to be strictly after start.
func ValidateRange(start domain.Date, end *domain.Date) error {
	if end != nil && !end.After(start) {
		return domain.InvalidRange(entity)
	}
	return nil
}

// New creates a prescription. Active defaults to true.
func New(familyMemberID, medicationID uuid.UUID, start domain.Date, end *domain.Date, active *bool, now time.Time) (*Prescription, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}
	p := &Prescription{
		ID:             uuid.New(),
		FamilyMemberID: familyMemberID,
		MedicationID:   medicationID,
		StartDate:      start,
		EndDate:        end,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if active != nil {
		p.Active = *active
	}
	p.record(domain.EventPrescriptionCreated)
	return p, nil
}

// Apply applies patch under policy. Uniqueness is not checked here since
// it needs the other prescriptions of the pair; see CheckUnique.
func (p *Prescription) Apply(patch Patch, policy Policy, now time.Time) error {
	switch {
	case patch.StartDate != nil && patch.EndDate != nil:
		if err := ValidateRange(*patch.StartDate, patch.EndDate); err != nil {
			return err
		}
	case policy.ValidateMergedRange:
		start, end := p.StartDate, p.EndDate
		if patch.StartDate != nil {
			start = *patch.StartDate
		}
		if patch.EndDate != nil {
			end = patch.EndDate
		}
		if err := ValidateRange(start, end); err != nil {
			return err
		}
	}

	if patch.StartDate != nil {
		p.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		end := *patch.EndDate
		p.EndDate = &end
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	p.UpdatedAt = now
	p.record(domain.EventPrescriptionUpdated)
	return nil
}

// Reactivates reports whether applying patch turns an inactive
// prescription back on.
func (p *Prescription) Reactivates(patch Patch) bool {
	return !p.Active && patch.Active != nil && *patch.Active
}

// Deactivate turns p off and stamps today as its end date. Repeating it
// on the same day leaves the same state.
func (p *Prescription) Deactivate(today domain.Date, now time.Time) {
	end := today
	p.Active = false
	p.EndDate = &end
	p.UpdatedAt = now
	p.record(domain.EventPrescriptionDeactivated)
}

// MarkDeleted records the deletion so the store can publish it.
func (p *Prescription) MarkDeleted() {
	p.record(domain.EventPrescriptionDeleted)
}

// CheckUnique fails with Conflict when another active prescription in
// existing covers the same member and medication as p. p's own flag does
// not matter: an inactive prescription cannot be created beside an
// active one either.
func CheckUnique(p *Prescription, existing []*Prescription) error {
	for _, other := range existing {
		if other.ID == p.ID || !other.Active {
			continue
		}
		if other.FamilyMemberID == p.FamilyMemberID && other.MedicationID == p.MedicationID {
			return DuplicateActive()
		}
	}
	return nil
}

// DuplicateActive is the Conflict returned by CheckUnique.
func DuplicateActive() error {
	return domain.Conflict(entity, "Active prescription already exists for this family member and medication")
}

// Changes returns uncommitted events
func (p *Prescription) Changes() []*domain.Event { return p.changes }

// ClearChanges clears uncommitted events
func (p *Prescription) ClearChanges() { p.changes = nil }

func (p *Prescription) record(eventType domain.EventType) {
	active := p.Active
	p.changes = append(p.changes, domain.NewEvent(domain.AggregatePrescription, p.ID, eventType, domain.ChangeData{
		PrescriptionID: p.ID.String(),
		FamilyMemberID: p.FamilyMemberID.String(),
		MedicationID:   p.MedicationID.String(),
		Active:         &active,
	}))
}
