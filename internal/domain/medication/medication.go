// Package medication models the medication catalogue.
package medication

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
)

const entity = "Medication"

// Medication is a catalogue entry. Names are unique.
type Medication struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Dosage       string    `json:"dosage"`
	Frequency    string    `json:"frequency"`
	Instructions string    `json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Patch is a partial update.
type Patch struct {
	Name         *string
	Dosage       *string
	Frequency    *string
	Instructions *string
}

// New builds a validated medication.
func New(name, dosage, frequency, instructions string, now time.Time) (*Medication, error) {
	m := &Medication{
		ID:           uuid.New(),
		Name:         name,
		Dosage:       dosage,
		Frequency:    frequency,
		Instructions: instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Apply merges p into m.
func (m *Medication) Apply(p Patch, now time.Time) error {
	next := *m
	if p.Name != nil {
		next.Name = *p.Name
	}
	if p.Dosage != nil {
		next.Dosage = *p.Dosage
	}
	if p.Frequency != nil {
		next.Frequency = *p.Frequency
	}
	if p.Instructions != nil {
		next.Instructions = *p.Instructions
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = now
	*m = next
	return nil
}

func (m *Medication) Validate() error {
	switch {
	case m.Name == "" || len(m.Name) > 255:
		return domain.Invalid(entity, "Name must be between 1 and 255 characters")
	case m.Dosage == "" || len(m.Dosage) > 100:
		return domain.Invalid(entity, "Dosage must be between 1 and 100 characters")
	case m.Frequency == "" || len(m.Frequency) > 100:
		return domain.Invalid(entity, "Frequency must be between 1 and 100 characters")
	}
	return nil
}

// Matches reports whether search occurs in the name or instructions,
// ignoring case. An empty search matches everything.
func (m *Medication) Matches(search string) bool {
	if search == "" {
		return true
	}
	q := strings.ToLower(search)
	return strings.Contains(strings.ToLower(m.Name), q) ||
		strings.Contains(strings.ToLower(m.Instructions), q)
}

// UpdatedEvent announces a change to fields shown on schedules.
func (m *Medication) UpdatedEvent() *domain.Event {
	return domain.NewEvent(domain.AggregateMedication, m.ID, domain.EventMedicationUpdated,
		domain.ChangeData{MedicationID: m.ID.String()})
}

// DuplicateName is returned when another medication already has the name.
func DuplicateName() error {
	return domain.Conflict(entity, "Medication with this name already exists")
}

// InUse is returned when deleting a medication that prescriptions still reference.
func InUse() error {
	return domain.Conflict(entity, "Cannot delete medication that is used in prescriptions")
}
