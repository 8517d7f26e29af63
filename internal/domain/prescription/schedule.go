package prescription

import (
	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
)

// ApplicableOn reports whether p is due on d: active, started, and not yet
// ended. The end date is inclusive.
func (p *Prescription) ApplicableOn(d domain.Date) bool {
	if !p.Active || p.StartDate.After(d) {
		return false
	}
	return p.EndDate == nil || !p.EndDate.Before(d)
}

// Group is the applicable prescriptions of one family member.
type Group struct {
	FamilyMemberID uuid.UUID
	Prescriptions  []*Prescription
}

// ApplicableOn filters ps to those due on d and groups them by family
// member. Groups appear in the order their first member was encountered,
// and prescriptions keep their input order within a group.
func ApplicableOn(d domain.Date, ps []*Prescription) []Group {
	var groups []Group
	index := make(map[uuid.UUID]int)
	for _, p := range ps {
		if !p.ApplicableOn(d) {
			continue
		}
		i, ok := index[p.FamilyMemberID]
		if !ok {
			i = len(groups)
			index[p.FamilyMemberID] = i
			groups = append(groups, Group{FamilyMemberID: p.FamilyMemberID})
		}
		groups[i].Prescriptions = append(groups[i].Prescriptions, p)
	}
	return groups
}
