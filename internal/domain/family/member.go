// Package family models the people and pets whose medication is tracked.
package family

import (
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
)

const entity = "Family member"

// Type distinguishes humans from pets.
type Type string

const (
	TypeHuman Type = "human"
	TypePet   Type = "pet"
)

// Gender is optional for every member.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Species applies to pets only.
type Species string

const (
	SpeciesDog     Species = "dog"
	SpeciesCat     Species = "cat"
	SpeciesBird    Species = "bird"
	SpeciesFish    Species = "fish"
	SpeciesRabbit  Species = "rabbit"
	SpeciesReptile Species = "reptile"
	SpeciesOther   Species = "other"
)

// Member is a family member: a person or a pet.
type Member struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Type        Type         `json:"type"`
	DateOfBirth *domain.Date `json:"dateOfBirth,omitempty"`
	Gender      Gender       `json:"gender,omitempty"`
	Species     Species      `json:"species,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name        *string
	Type        *Type
	DateOfBirth *domain.Date
	Gender      *Gender
	Species     *Species
}

// Filter narrows member listings.
type Filter struct {
	Type Type
}

// New builds a member, defaulting the type to human.
func New(name string, typ Type, dob *domain.Date, gender Gender, species Species, now time.Time) (*Member, error) {
	if typ == "" {
		typ = TypeHuman
	}
	m := &Member{
		ID:          uuid.New(),
		Name:        name,
		Type:        typ,
		DateOfBirth: dob,
		Gender:      gender,
		Species:     species,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Apply merges p into m and validates the result. Switching a member to
// human without naming a species drops the pet species.
func (m *Member) Apply(p Patch, now time.Time) error {
	next := *m
	if p.Name != nil {
		next.Name = *p.Name
	}
	if p.Type != nil {
		next.Type = *p.Type
		if next.Type == TypeHuman && p.Species == nil {
			next.Species = ""
		}
	}
	if p.DateOfBirth != nil {
		next.DateOfBirth = p.DateOfBirth
	}
	if p.Gender != nil {
		next.Gender = *p.Gender
	}
	if p.Species != nil {
		next.Species = *p.Species
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = now
	*m = next
	return nil
}

// Validate enforces the member invariants.
func (m *Member) Validate() error {
	if m.Name == "" || len(m.Name) > 255 {
		return domain.Invalid(entity, "Name must be between 1 and 255 characters")
	}
	if !m.Type.Valid() {
		return domain.Invalid(entity, "Type must be one of human, pet")
	}
	if m.Gender != "" && !m.Gender.Valid() {
		return domain.Invalid(entity, "Gender must be one of male, female, other")
	}
	if m.Species != "" && !m.Species.Valid() {
		return domain.Invalid(entity, "Unknown species")
	}
	if m.Species != "" && m.Type != TypePet {
		return domain.Invalid(entity, "Species can only be set for pets")
	}
	if m.Type == TypePet && m.Species == "" {
		return domain.Invalid(entity, "Species is required for pets")
	}
	return nil
}

// Age returns whole years on today, or false when no birth date is known.
func (m *Member) Age(today domain.Date) (int, bool) {
	if m.DateOfBirth == nil {
		return 0, false
	}
	dob := *m.DateOfBirth
	age := today.Year - dob.Year
	if today.Month < dob.Month || (today.Month == dob.Month && today.Day < dob.Day) {
		age--
	}
	return age, true
}

// RemovedEvent announces that m and everything it owned is gone.
func (m *Member) RemovedEvent() *domain.Event {
	return domain.NewEvent(domain.AggregateFamilyMember, m.ID, domain.EventFamilyMemberRemoved,
		domain.ChangeData{FamilyMemberID: m.ID.String()})
}

// UpdatedEvent announces a change to display fields used by schedules.
func (m *Member) UpdatedEvent() *domain.Event {
	return domain.NewEvent(domain.AggregateFamilyMember, m.ID, domain.EventFamilyMemberUpdated,
		domain.ChangeData{FamilyMemberID: m.ID.String()})
}

func (t Type) Valid() bool { return t == TypeHuman || t == TypePet }

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

func (s Species) Valid() bool {
	switch s {
	case SpeciesDog, SpeciesCat, SpeciesBird, SpeciesFish, SpeciesRabbit, SpeciesReptile, SpeciesOther:
		return true
	}
	return false
}
