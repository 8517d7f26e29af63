package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/domain/prescription"
)

func TestJoinAndDerive(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	alice := &family.Member{ID: uuid.New(), Name: "Alice", Type: family.TypeHuman}
	rex := &family.Member{ID: uuid.New(), Name: "Rex", Type: family.TypePet, Species: family.SpeciesDog}
	zyrtec := &medication.Medication{ID: uuid.New(), Name: "Zyrtec", Dosage: "10mg", Frequency: "daily"}
	aspirin := &medication.Medication{ID: uuid.New(), Name: "Aspirin", Dosage: "81mg", Frequency: "daily"}
	heartgard := &medication.Medication{ID: uuid.New(), Name: "Heartgard", Dosage: "1 chew", Frequency: "monthly"}

	mk := func(m *family.Member, med *medication.Medication, start string, end *domain.Date) *prescription.Prescription {
		p, err := prescription.New(m.ID, med.ID, domain.MustParseDate(start), end, nil, now)
		if err != nil {
			t.Fatalf("prescription.New() error = %v", err)
		}
		return p
	}
	expired := domain.MustParseDate("2024-03-01")
	ps := []*prescription.Prescription{
		mk(rex, heartgard, "2024-01-01", nil),
		mk(alice, zyrtec, "2024-01-01", nil),
		mk(alice, aspirin, "2024-01-01", nil),
		mk(alice, heartgard, "2024-01-01", &expired),
		{ID: uuid.New(), FamilyMemberID: uuid.New(), MedicationID: aspirin.ID, Active: true},
	}

	entries := Join(ps, []*family.Member{alice, rex}, []*medication.Medication{zyrtec, aspirin, heartgard})
	if len(entries) != 4 {
		t.Fatalf("Join() kept %d entries, want 4 (orphan dropped)", len(entries))
	}

	groups := Derive(domain.MustParseDate("2024-06-01"), entries)
	if len(groups) != 2 {
		t.Fatalf("Derive() groups = %d, want 2", len(groups))
	}
	if groups[0].Member.Name != "Rex" || groups[1].Member.Name != "Alice" {
		t.Errorf("group order = [%s %s], want [Rex Alice]", groups[0].Member.Name, groups[1].Member.Name)
	}
	var names []string
	for _, e := range groups[1].Entries {
		names = append(names, e.Medication.Name)
	}
	if len(names) != 2 || names[0] != "Aspirin" || names[1] != "Zyrtec" {
		t.Errorf("Alice's medications = %v, want [Aspirin Zyrtec]", names)
	}

	active := true
	if got := Filter(entries, prescription.Filter{FamilyMemberID: &alice.ID, Active: &active}); len(got) != 3 {
		t.Errorf("Filter(alice, active) = %d entries, want 3", len(got))
	}
}
