// Package storetest holds the behaviour every store.Store must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/store"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// Run exercises st. Each subtest gets a fresh store from open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"MemberRoundTrip", testMemberRoundTrip},
		{"MedicationNameConflict", testMedicationNameConflict},
		{"MedicationSearch", testMedicationSearch},
		{"PrescriptionUniqueness", testPrescriptionUniqueness},
		{"PrescriptionDatesSurvive", testPrescriptionDatesSurvive},
		{"DeleteCascades", testDeleteCascades},
		{"LogWindowAndOrder", testLogWindowAndOrder},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := open(t)
			t.Cleanup(func() { st.Close() })
			tt.fn(t, st)
		})
	}
}

func mustMember(t *testing.T, st store.Store, name string, typ family.Type, species family.Species) *family.Member {
	t.Helper()
	m, err := family.New(name, typ, nil, "", species, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.FamilyMembers().Create(context.Background(), m); err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func mustMedication(t *testing.T, st store.Store, name, instructions string) *medication.Medication {
	t.Helper()
	m, err := medication.New(name, "10mg", "daily", instructions, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Medications().Create(context.Background(), m); err != nil {
		t.Fatalf("create medication: %v", err)
	}
	return m
}

func mustPrescription(t *testing.T, st store.Store, member, med uuid.UUID, active bool) *prescription.Prescription {
	t.Helper()
	p, err := prescription.New(member, med, domain.MustParseDate("2024-01-01"), nil, &active, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Prescriptions().Create(context.Background(), p); err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	return p
}

func mustLog(t *testing.T, st store.Store, prescriptionID uuid.UUID, scheduled time.Time) *medlog.Log {
	t.Helper()
	l, err := medlog.New(prescriptionID, scheduled, medlog.StatusMissed, nil, "", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.MedicationLogs().Create(context.Background(), l); err != nil {
		t.Fatalf("create log: %v", err)
	}
	return l
}

func testMemberRoundTrip(t *testing.T, st store.Store) {
	ctx := context.Background()
	dob := domain.MustParseDate("2019-02-28")
	m, err := family.New("Rex", family.TypePet, &dob, family.GenderMale, family.SpeciesDog, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.FamilyMembers().Create(ctx, m); err != nil {
		t.Fatal(err)
	}
	mustMember(t, st, "Alice", family.TypeHuman, "")

	got, err := st.FamilyMembers().Get(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Rex" || got.Species != family.SpeciesDog || got.Gender != family.GenderMale {
		t.Errorf("Get() = %+v", got)
	}
	if got.DateOfBirth == nil || *got.DateOfBirth != dob {
		t.Errorf("DateOfBirth = %v, want %s", got.DateOfBirth, dob)
	}

	pets, err := st.FamilyMembers().List(ctx, family.Filter{Type: family.TypePet})
	if err != nil || len(pets) != 1 {
		t.Errorf("List(pet) = %d, %v", len(pets), err)
	}
	all, _ := st.FamilyMembers().List(ctx, family.Filter{})
	if len(all) != 2 || all[0].Name != "Alice" {
		t.Errorf("List() not ordered by name: %d members", len(all))
	}
}

func testMedicationNameConflict(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustMedication(t, st, "Aspirin", "")
	other := mustMedication(t, st, "Zyrtec", "")

	dup, _ := medication.New("Aspirin", "5mg", "daily", "", now)
	if err := st.Medications().Create(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Create(duplicate) error = %v, want ErrConflict", err)
	}
	other.Name = "Aspirin"
	if err := st.Medications().Update(ctx, other); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Update(rename) error = %v, want ErrConflict", err)
	}
}

func testMedicationSearch(t *testing.T, st store.Store) {
	mustMedication(t, st, "Aspirin", "with food")
	mustMedication(t, st, "Zyrtec", "")
	mustMedication(t, st, "Amoxicillin", "")

	tests := []struct {
		search string
		want   int
	}{
		{"", 3},
		{"asp", 1},
		{"FOOD", 1},
		{"a", 2},
		{"100%", 0},
	}
	for _, tt := range tests {
		got, err := st.Medications().List(context.Background(), tt.search)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tt.want {
			t.Errorf("List(%q) = %d, want %d", tt.search, len(got), tt.want)
		}
	}
}

func testPrescriptionUniqueness(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := mustMember(t, st, "Alice", family.TypeHuman, "")
	med := mustMedication(t, st, "Aspirin", "")
	// Inactive rows may pile up for a pair as long as none is active yet.
	past := mustPrescription(t, st, m.ID, med.ID, false)
	first := mustPrescription(t, st, m.ID, med.ID, true)

	dup, _ := prescription.New(m.ID, med.ID, domain.MustParseDate("2024-02-01"), nil, nil, now)
	if err := st.Prescriptions().Create(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Create(duplicate) error = %v, want ErrConflict", err)
	}
	off := false
	dupInactive, _ := prescription.New(m.ID, med.ID, domain.MustParseDate("2024-02-01"), nil, &off, now)
	if err := st.Prescriptions().Create(ctx, dupInactive); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Create(inactive beside active) error = %v, want ErrConflict", err)
	}

	past.Active = true
	if err := st.Prescriptions().Update(ctx, past, true); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Update(checked reactivation) error = %v, want ErrConflict", err)
	}
	if err := st.Prescriptions().Update(ctx, past, false); err != nil {
		t.Errorf("Update(unchecked reactivation) error = %v", err)
	}

	active := true
	got, _ := st.Prescriptions().List(ctx, prescription.Filter{Active: &active})
	if len(got) != 2 || (got[0].ID != first.ID && got[1].ID != first.ID) {
		t.Errorf("List(active) = %d prescriptions, want 2 including the first", len(got))
	}
	all, _ := st.Prescriptions().List(ctx, prescription.Filter{})
	if len(all) != 2 {
		t.Errorf("List() = %d prescriptions, want 2 (rejected creates must not persist)", len(all))
	}
}

func testPrescriptionDatesSurvive(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := mustMember(t, st, "Alice", family.TypeHuman, "")
	med := mustMedication(t, st, "Aspirin", "")
	p := mustPrescription(t, st, m.ID, med.ID, true)

	p.Deactivate(domain.MustParseDate("2024-06-01"), now)
	if err := st.Prescriptions().Update(ctx, p, false); err != nil {
		t.Fatal(err)
	}
	got, err := st.Prescriptions().Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active || got.StartDate != domain.MustParseDate("2024-01-01") ||
		got.EndDate == nil || *got.EndDate != domain.MustParseDate("2024-06-01") {
		t.Errorf("Get() = %+v", got)
	}
}

func testDeleteCascades(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := mustMember(t, st, "Alice", family.TypeHuman, "")
	med := mustMedication(t, st, "Aspirin", "")
	p := mustPrescription(t, st, m.ID, med.ID, true)
	l := mustLog(t, st, p.ID, now)

	if err := st.Medications().Delete(ctx, med.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Delete(referenced medication) error = %v, want ErrConflict", err)
	}
	if err := st.FamilyMembers().Delete(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Prescriptions().Get(ctx, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("prescription after member delete: %v", err)
	}
	if _, err := st.MedicationLogs().Get(ctx, l.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("log after member delete: %v", err)
	}
	if err := st.Medications().Delete(ctx, med.ID); err != nil {
		t.Errorf("Delete(free medication) error = %v", err)
	}
}

func testLogWindowAndOrder(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := mustMember(t, st, "Alice", family.TypeHuman, "")
	other := mustMember(t, st, "Bob", family.TypeHuman, "")
	med := mustMedication(t, st, "Aspirin", "")
	p := mustPrescription(t, st, m.ID, med.ID, true)
	q := mustPrescription(t, st, other.ID, med.ID, true)

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	mustLog(t, st, p.ID, base.Add(3*time.Hour))
	mustLog(t, st, p.ID, base.Add(time.Hour))
	mustLog(t, st, p.ID, base.Add(-24*time.Hour))
	mustLog(t, st, q.ID, base.Add(2*time.Hour))

	from, to := base, base.Add(12*time.Hour)
	got, err := st.MedicationLogs().List(ctx, medlog.Filter{FamilyMemberID: &m.ID, From: &from, To: &to})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("List() = %d logs, want 2", len(got))
	}
	if !got[0].ScheduledTime.Equal(base.Add(time.Hour)) || !got[1].ScheduledTime.Equal(base.Add(3*time.Hour)) {
		t.Errorf("List() order = %v, %v", got[0].ScheduledTime, got[1].ScheduledTime)
	}

	taken := base.Add(90 * time.Minute)
	got[0].MarkTaken(&taken, now)
	if err := st.MedicationLogs().Update(ctx, got[0]); err != nil {
		t.Fatal(err)
	}
	reread, _ := st.MedicationLogs().Get(ctx, got[0].ID)
	if reread.Status != medlog.StatusTaken || reread.TakenTime == nil || !reread.TakenTime.Equal(taken) {
		t.Errorf("Get() after MarkTaken = %+v", reread)
	}

	counts, _ := st.MedicationLogs().CountByPrescription(ctx)
	if counts[p.ID] != 3 || counts[q.ID] != 1 {
		t.Errorf("CountByPrescription() = %v", counts)
	}
}

func testNotFound(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := uuid.New()
	checks := map[string]error{}
	_, checks["member get"] = st.FamilyMembers().Get(ctx, id)
	checks["member delete"] = st.FamilyMembers().Delete(ctx, id)
	_, checks["medication get"] = st.Medications().Get(ctx, id)
	checks["medication delete"] = st.Medications().Delete(ctx, id)
	_, checks["prescription get"] = st.Prescriptions().Get(ctx, id)
	_, checks["log get"] = st.MedicationLogs().Get(ctx, id)
	checks["log delete"] = st.MedicationLogs().Delete(ctx, id)

	for name, err := range checks {
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%s error = %v, want ErrNotFound", name, err)
		}
	}
}

// SeedPrescription stores a member, a medication and an active
// prescription linking them.
func SeedPrescription(t *testing.T, st store.Store) *prescription.Prescription {
	t.Helper()
	m := mustMember(t, st, "Alice", family.TypeHuman, "")
	med := mustMedication(t, st, "Aspirin", "")
	return mustPrescription(t, st, m.ID, med.ID, true)
}
