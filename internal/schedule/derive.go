package schedule

import (
	"sort"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/domain/prescription"
)

// MemberRef is the part of a family member shown next to a prescription.
type MemberRef struct {
	ID   uuid.UUID   `json:"id"`
	Name string      `json:"name"`
	Type family.Type `json:"type"`
}

// MedicationRef is the part of a medication shown next to a prescription.
type MedicationRef struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage"`
	Frequency string    `json:"frequency"`
}

// Entry is one prescription joined with its member and medication.
// Entries returned from a Snapshot are shared and must not be modified.
type Entry struct {
	Prescription *prescription.Prescription
	Member       MemberRef
	Medication   MedicationRef
}

// MemberRefOf builds the display reference of m.
func MemberRefOf(m *family.Member) MemberRef {
	return MemberRef{ID: m.ID, Name: m.Name, Type: m.Type}
}

// MedicationRefOf builds the display reference of m.
func MedicationRefOf(m *medication.Medication) MedicationRef {
	return MedicationRef{ID: m.ID, Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency}
}

// Join pairs prescriptions with their members and medications. A
// prescription whose member or medication is missing is dropped.
func Join(ps []*prescription.Prescription, members []*family.Member, meds []*medication.Medication) []Entry {
	memberByID := make(map[uuid.UUID]*family.Member, len(members))
	for _, m := range members {
		memberByID[m.ID] = m
	}
	medByID := make(map[uuid.UUID]*medication.Medication, len(meds))
	for _, m := range meds {
		medByID[m.ID] = m
	}

	entries := make([]Entry, 0, len(ps))
	for _, p := range ps {
		member, ok := memberByID[p.FamilyMemberID]
		if !ok {
			continue
		}
		med, ok := medByID[p.MedicationID]
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Prescription: p,
			Member:       MemberRefOf(member),
			Medication:   MedicationRefOf(med),
		})
	}
	return entries
}

// Filter returns the entries whose prescription passes f, in order.
func Filter(entries []Entry, f prescription.Filter) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Matches(e.Prescription) {
			out = append(out, e)
		}
	}
	return out
}

// MemberSchedule is what one family member is due to take on a date.
type MemberSchedule struct {
	Member  MemberRef
	Entries []Entry
}

// Derive returns the entries applicable on date grouped by family member.
// Groups keep the order members are first encountered in; within a group
// entries are sorted by medication name.
func Derive(date domain.Date, entries []Entry) []MemberSchedule {
	ps := make([]*prescription.Prescription, len(entries))
	byPrescription := make(map[*prescription.Prescription]Entry, len(entries))
	for i, e := range entries {
		ps[i] = e.Prescription
		byPrescription[e.Prescription] = e
	}

	groups := prescription.ApplicableOn(date, ps)
	out := make([]MemberSchedule, 0, len(groups))
	for _, g := range groups {
		ms := MemberSchedule{Entries: make([]Entry, 0, len(g.Prescriptions))}
		for _, p := range g.Prescriptions {
			ms.Entries = append(ms.Entries, byPrescription[p])
		}
		ms.Member = ms.Entries[0].Member
		sort.SliceStable(ms.Entries, func(i, j int) bool {
			return ms.Entries[i].Medication.Name < ms.Entries[j].Medication.Name
		})
		out = append(out, ms)
	}
	return out
}
