package service

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
	"github.com/familyrx/medtrack/internal/infrastructure/memory"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	svc   *Services
}

func newFixture(t *testing.T, policy prescription.Policy) *fixture {
	t.Helper()
	st := memory.New()
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		store: st,
		svc: New(st, Options{
			Policy:   policy,
			Location: time.UTC,
			Now:      func() time.Time { return fixedNow },
		}),
	}
}

func (f *fixture) member(name string) *family.Member {
	f.t.Helper()
	m, err := f.svc.FamilyMembers.Create(f.ctx, CreateFamilyMember{Name: name})
	if err != nil {
		f.t.Fatalf("create member: %v", err)
	}
	return m.Member
}

func (f *fixture) medication(name string) *medication.Medication {
	f.t.Helper()
	m, err := f.svc.Medications.Create(f.ctx, CreateMedication{Name: name, Dosage: "10mg", Frequency: "daily"})
	if err != nil {
		f.t.Fatalf("create medication: %v", err)
	}
	return m.Medication
}

func (f *fixture) prescribe(member, med uuid.UUID, start string) *prescription.Prescription {
	f.t.Helper()
	p, err := f.svc.Prescriptions.Create(f.ctx, CreatePrescription{
		FamilyMemberID: member,
		MedicationID:   med,
		StartDate:      domain.MustParseDate(start),
	})
	if err != nil {
		f.t.Fatalf("create prescription: %v", err)
	}
	return p.Prescription
}

func (f *fixture) scheduled(date string) map[uuid.UUID]bool {
	f.t.Helper()
	groups, err := f.svc.Schedule.For(f.ctx, domain.MustParseDate(date), nil)
	if err != nil {
		f.t.Fatalf("schedule: %v", err)
	}
	out := make(map[uuid.UUID]bool)
	for _, g := range groups {
		for _, e := range g.Entries {
			out[e.Prescription.ID] = true
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func TestCreatePrescriptionRules(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	alice := f.member("Alice")
	aspirin := f.medication("Aspirin")
	f.prescribe(alice.ID, aspirin.ID, "2024-01-01")

	end := domain.MustParseDate("2023-12-31")
	tests := []struct {
		name    string
		in      CreatePrescription
		wantErr error
	}{
		{
			name:    "duplicate active pair",
			in:      CreatePrescription{FamilyMemberID: alice.ID, MedicationID: aspirin.ID, StartDate: domain.MustParseDate("2024-02-01")},
			wantErr: domain.ErrConflict,
		},
		{
			name:    "inactive beside an active pair",
			in:      CreatePrescription{FamilyMemberID: alice.ID, MedicationID: aspirin.ID, StartDate: domain.MustParseDate("2024-02-01"), Active: boolPtr(false)},
			wantErr: domain.ErrConflict,
		},
		{
			name:    "unknown member",
			in:      CreatePrescription{FamilyMemberID: uuid.New(), MedicationID: aspirin.ID, StartDate: domain.MustParseDate("2024-02-01")},
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "unknown medication",
			in:      CreatePrescription{FamilyMemberID: alice.ID, MedicationID: uuid.New(), StartDate: domain.MustParseDate("2024-02-01")},
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "end before start",
			in:      CreatePrescription{FamilyMemberID: alice.ID, MedicationID: f.medication("Zyrtec").ID, StartDate: domain.MustParseDate("2024-01-01"), EndDate: &end},
			wantErr: domain.ErrInvalidRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Prescriptions.Create(f.ctx, tt.in)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateInactiveBesideActiveConflicts(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	ada, aspirin := f.member("Ada"), f.medication("Aspirin")
	f.prescribe(ada.ID, aspirin.ID, "2024-01-01")

	_, err := f.svc.Prescriptions.Create(f.ctx, CreatePrescription{
		FamilyMemberID: ada.ID,
		MedicationID:   aspirin.ID,
		StartDate:      domain.MustParseDate("2024-03-01"),
		Active:         boolPtr(false),
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Create(active=false) beside an active pair error = %v, want ErrConflict", err)
	}

	all, _ := f.svc.Prescriptions.List(f.ctx, prescription.Filter{FamilyMemberID: &ada.ID})
	if len(all) != 1 {
		t.Errorf("prescriptions for Ada = %d, want 1", len(all))
	}
}

func TestCreateInactiveWithoutActivePeer(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	ada, aspirin := f.member("Ada"), f.medication("Aspirin")
	first := f.prescribe(ada.ID, aspirin.ID, "2024-01-01")
	if _, err := f.svc.Prescriptions.Deactivate(f.ctx, first.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	if _, err := f.svc.Prescriptions.Create(f.ctx, CreatePrescription{
		FamilyMemberID: ada.ID,
		MedicationID:   aspirin.ID,
		StartDate:      domain.MustParseDate("2024-03-01"),
		Active:         boolPtr(false),
	}); err != nil {
		t.Fatalf("Create(active=false) with only inactive peers error = %v", err)
	}
}

func TestScheduleReflectsLifecycleWithoutStaleReads(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	p := f.prescribe(f.member("Alice").ID, f.medication("Aspirin").ID, "2024-01-01")

	if !f.scheduled("2024-06-01")[p.ID] {
		t.Fatal("new prescription missing from schedule")
	}

	if _, err := f.svc.Prescriptions.Deactivate(f.ctx, p.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if f.scheduled("2024-06-01")[p.ID] {
		t.Fatal("deactivated prescription still scheduled")
	}
	active, err := f.svc.Prescriptions.List(f.ctx, prescription.Filter{Active: boolPtr(true)})
	if err != nil {
		t.Fatalf("List(active) error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active listing = %d prescriptions after deactivate, want 0", len(active))
	}
	all, err := f.svc.Prescriptions.List(f.ctx, prescription.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 || all[0].Prescription.Active {
		t.Fatalf("full listing disagrees with active listing: %+v", all)
	}

	before, _ := f.svc.Prescriptions.Get(f.ctx, p.ID)
	after, err := f.svc.Prescriptions.Update(f.ctx, p.ID, prescription.Patch{Active: boolPtr(true)})
	if err != nil {
		t.Fatalf("reactivate error = %v", err)
	}
	if !f.scheduled("2024-06-01")[p.ID] {
		t.Fatal("reactivated prescription missing from schedule")
	}
	got, want := after.Prescription, before.Prescription
	if got.StartDate != want.StartDate || got.FamilyMemberID != want.FamilyMemberID ||
		got.MedicationID != want.MedicationID || *got.EndDate != *want.EndDate {
		t.Errorf("reactivation changed other fields: got %+v, want %+v", got, want)
	}
}

func TestDeactivateTwiceMatchesOnce(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	p := f.prescribe(f.member("Alice").ID, f.medication("Aspirin").ID, "2024-01-01")

	once, err := f.svc.Prescriptions.Deactivate(f.ctx, p.ID)
	if err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	twice, err := f.svc.Prescriptions.Deactivate(f.ctx, p.ID)
	if err != nil {
		t.Fatalf("second Deactivate() error = %v", err)
	}
	if once.Prescription.Active != twice.Prescription.Active ||
		*once.Prescription.EndDate != *twice.Prescription.EndDate ||
		!once.Prescription.UpdatedAt.Equal(twice.Prescription.UpdatedAt) {
		t.Errorf("states differ: %+v vs %+v", once.Prescription, twice.Prescription)
	}
	if _, err := f.svc.Prescriptions.Deactivate(f.ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Deactivate(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestReactivationUniqueness(t *testing.T) {
	tests := []struct {
		name    string
		policy  prescription.Policy
		wantErr error
	}{
		{name: "lenient", policy: prescription.Policy{}, wantErr: nil},
		{name: "enforced", policy: prescription.Policy{EnforceUniqueOnReactivate: true}, wantErr: domain.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.policy)
			alice, aspirin := f.member("Alice"), f.medication("Aspirin")
			first := f.prescribe(alice.ID, aspirin.ID, "2024-01-01")
			if _, err := f.svc.Prescriptions.Deactivate(f.ctx, first.ID); err != nil {
				t.Fatalf("Deactivate() error = %v", err)
			}
			f.prescribe(alice.ID, aspirin.ID, "2024-05-01")

			_, err := f.svc.Prescriptions.Update(f.ctx, first.ID, prescription.Patch{Active: boolPtr(true)})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("reactivate error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("reactivate error = %v, want %v", err, tt.wantErr)
			}

			active, _ := f.svc.Prescriptions.List(f.ctx, prescription.Filter{Active: boolPtr(true)})
			wantActive := 2
			if tt.wantErr != nil {
				wantActive = 1
			}
			if len(active) != wantActive {
				t.Errorf("active prescriptions = %d, want %d", len(active), wantActive)
			}
		})
	}
}

func TestUpdateRangeChecks(t *testing.T) {
	tests := []struct {
		name    string
		policy  prescription.Policy
		wantErr error
	}{
		{name: "single date not cross-checked", policy: prescription.Policy{}},
		{name: "merged range checked", policy: prescription.Policy{ValidateMergedRange: true}, wantErr: domain.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.policy)
			p := f.prescribe(f.member("Alice").ID, f.medication("Aspirin").ID, "2024-03-01")
			end := domain.MustParseDate("2024-02-01")
			_, err := f.svc.Prescriptions.Update(f.ctx, p.ID, prescription.Patch{EndDate: &end})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	f := newFixture(t, prescription.Policy{})
	p := f.prescribe(f.member("Bob").ID, f.medication("Aspirin").ID, "2024-03-01")
	start, end := domain.MustParseDate("2024-04-01"), domain.MustParseDate("2024-04-01")
	if _, err := f.svc.Prescriptions.Update(f.ctx, p.ID, prescription.Patch{StartDate: &start, EndDate: &end}); !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("Update(both dates equal) error = %v, want ErrInvalidRange", err)
	}
	if _, err := f.svc.Prescriptions.Update(f.ctx, uuid.New(), prescription.Patch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	alice := f.member("Alice")
	aspirin := f.medication("Aspirin")
	p := f.prescribe(alice.ID, aspirin.ID, "2024-01-01")
	log, err := f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{PrescriptionID: p.ID, ScheduledTime: fixedNow})
	if err != nil {
		t.Fatalf("create log: %v", err)
	}

	if err := f.svc.Medications.Delete(f.ctx, aspirin.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("delete referenced medication error = %v, want ErrConflict", err)
	}

	if err := f.svc.Prescriptions.Delete(f.ctx, p.ID); err != nil {
		t.Fatalf("delete prescription: %v", err)
	}
	if _, err := f.svc.MedicationLogs.Get(f.ctx, log.Log.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("log survived its prescription: %v", err)
	}
	if f.scheduled("2024-06-01")[p.ID] {
		t.Error("deleted prescription still scheduled")
	}
	if err := f.svc.Medications.Delete(f.ctx, aspirin.ID); err != nil {
		t.Errorf("delete unreferenced medication: %v", err)
	}

	zyrtec := f.medication("Zyrtec")
	p2 := f.prescribe(alice.ID, zyrtec.ID, "2024-01-01")
	log2, _ := f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{PrescriptionID: p2.ID, ScheduledTime: fixedNow})
	if err := f.svc.FamilyMembers.Delete(f.ctx, alice.ID); err != nil {
		t.Fatalf("delete member: %v", err)
	}
	if _, err := f.svc.Prescriptions.Get(f.ctx, p2.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("prescription survived its member: %v", err)
	}
	if _, err := f.svc.MedicationLogs.Get(f.ctx, log2.Log.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("log survived its member: %v", err)
	}
	if err := f.svc.FamilyMembers.Delete(f.ctx, alice.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestMedicationNamesAreUnique(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	f.medication("Aspirin")
	zyrtec := f.medication("Zyrtec")

	if _, err := f.svc.Medications.Create(f.ctx, CreateMedication{Name: "Aspirin", Dosage: "1", Frequency: "1"}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate create error = %v, want ErrConflict", err)
	}
	name := "Aspirin"
	if _, err := f.svc.Medications.Update(f.ctx, zyrtec.ID, medication.Patch{Name: &name}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("rename onto taken name error = %v, want ErrConflict", err)
	}

	found, err := f.svc.Medications.List(f.ctx, "zyr")
	if err != nil || len(found) != 1 || found[0].Medication.ID != zyrtec.ID {
		t.Errorf("List(search) = %v, %v", found, err)
	}
}

func TestMemberAndMedicationCountsFollowSnapshot(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	alice := f.member("Alice")
	aspirin := f.medication("Aspirin")
	p := f.prescribe(alice.ID, aspirin.ID, "2024-01-01")

	members, err := f.svc.FamilyMembers.List(f.ctx, family.Filter{})
	if err != nil || len(members) != 1 || members[0].ActivePrescriptions != 1 {
		t.Fatalf("members = %+v, %v", members, err)
	}
	if _, err := f.svc.Prescriptions.Deactivate(f.ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	detail, err := f.svc.FamilyMembers.Get(f.ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.ActivePrescriptions != 0 || len(detail.Prescriptions) != 1 {
		t.Errorf("member detail after deactivate = %d active of %d", detail.ActivePrescriptions, len(detail.Prescriptions))
	}
	med, err := f.svc.Medications.Get(f.ctx, aspirin.ID)
	if err != nil || med.ActivePrescriptions != 0 {
		t.Errorf("medication detail = %+v, %v", med, err)
	}
}

func TestMedicationLogLifecycle(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	p := f.prescribe(f.member("Alice").ID, f.medication("Aspirin").ID, "2024-01-01")

	scheduled := fixedNow.Add(-2 * time.Hour)
	created, err := f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{
		PrescriptionID: p.ID,
		ScheduledTime:  scheduled,
		Status:         medlog.StatusTaken,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Log.TakenTime == nil || !created.Log.TakenTime.Equal(fixedNow) {
		t.Errorf("TakenTime = %v, want stamped %v", created.Log.TakenTime, fixedNow)
	}
	if !created.Log.IsLate() {
		t.Error("IsLate() = false for a dose taken two hours after schedule")
	}
	if created.Entry.Medication.Name != "Aspirin" {
		t.Errorf("joined medication = %q", created.Entry.Medication.Name)
	}

	missed, err := f.svc.MedicationLogs.MarkAsMissed(f.ctx, created.Log.ID)
	if err != nil || missed.Log.Status != medlog.StatusMissed || missed.Log.TakenTime != nil {
		t.Fatalf("MarkAsMissed() = %+v, %v", missed, err)
	}
	notes := "asleep"
	skipped, err := f.svc.MedicationLogs.MarkAsSkipped(f.ctx, created.Log.ID, &notes)
	if err != nil || skipped.Log.Notes != notes {
		t.Fatalf("MarkAsSkipped() = %+v, %v", skipped, err)
	}
	taken, err := f.svc.MedicationLogs.MarkAsTaken(f.ctx, created.Log.ID, &scheduled)
	if err != nil || !taken.Log.TakenTime.Equal(scheduled) || taken.Log.IsLate() {
		t.Fatalf("MarkAsTaken(on time) = %+v, %v", taken, err)
	}

	if _, err := f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{PrescriptionID: uuid.New(), ScheduledTime: scheduled}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Create(unknown prescription) error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.MedicationLogs.MarkAsMissed(f.ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkAsMissed(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestComplianceStats(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	alice, bob := f.member("Alice"), f.member("Bob")
	aspirin := f.medication("Aspirin")
	pa := f.prescribe(alice.ID, aspirin.ID, "2024-01-01")
	pb := f.prescribe(bob.ID, aspirin.ID, "2024-01-01")

	statuses := []medlog.Status{
		medlog.StatusTaken, medlog.StatusTaken, medlog.StatusTaken, medlog.StatusTaken,
		medlog.StatusTaken, medlog.StatusTaken, medlog.StatusTaken,
		medlog.StatusMissed, medlog.StatusMissed, medlog.StatusSkipped,
	}
	for i, s := range statuses {
		_, err := f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{
			PrescriptionID: pa.ID,
			ScheduledTime:  fixedNow.AddDate(0, 0, -i-1),
			Status:         s,
		})
		if err != nil {
			t.Fatalf("create log %d: %v", i, err)
		}
	}
	// Outside the window and for another member.
	f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{PrescriptionID: pa.ID, ScheduledTime: fixedNow.AddDate(0, 0, -45), Status: medlog.StatusMissed})
	f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{PrescriptionID: pb.ID, ScheduledTime: fixedNow.AddDate(0, 0, -1), Status: medlog.StatusMissed})

	got, err := f.svc.MedicationLogs.ComplianceStats(f.ctx, &alice.ID, 30)
	if err != nil {
		t.Fatalf("ComplianceStats() error = %v", err)
	}
	if got.TotalLogs != 10 || got.TakenCount != 7 || got.MissedCount != 2 || got.SkippedCount != 1 {
		t.Errorf("counts = %+v", got.Stats)
	}
	if got.ComplianceRate != 70 || got.Grade != medlog.GradeFair {
		t.Errorf("rate = %v grade = %s, want 70 Fair", got.ComplianceRate, got.Grade)
	}

	everyone, err := f.svc.MedicationLogs.ComplianceStats(f.ctx, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if everyone.Days != 30 || everyone.TotalLogs != 11 {
		t.Errorf("all members = %d logs over %d days, want 11 over 30", everyone.TotalLogs, everyone.Days)
	}

	empty, _ := f.svc.MedicationLogs.ComplianceStats(f.ctx, &bob.ID, 0)
	if empty.ComplianceRate != 0 {
		t.Errorf("bob's rate = %v, want 0", empty.ComplianceRate)
	}
	nobody := uuid.New()
	none, _ := f.svc.MedicationLogs.ComplianceStats(f.ctx, &nobody, 7)
	if none.TotalLogs != 0 || none.ComplianceRate != 0 || none.Grade != medlog.GradeCritical {
		t.Errorf("no logs = %+v", none)
	}
}

func TestDailySchedule(t *testing.T) {
	f := newFixture(t, prescription.Policy{})
	alice := f.member("Alice")
	aspirin, zyrtec := f.medication("Aspirin"), f.medication("Zyrtec")
	pa := f.prescribe(alice.ID, aspirin.ID, "2024-01-01")
	f.prescribe(alice.ID, zyrtec.ID, "2024-01-01")

	_, err := f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{
		PrescriptionID: pa.ID,
		ScheduledTime:  time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Status:         medlog.StatusMissed,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.svc.MedicationLogs.Create(f.ctx, CreateMedicationLog{
		PrescriptionID: pa.ID,
		ScheduledTime:  time.Date(2024, 5, 31, 8, 0, 0, 0, time.UTC),
	})

	day, err := f.svc.MedicationLogs.Today(f.ctx, nil)
	if err != nil {
		t.Fatalf("Today() error = %v", err)
	}
	if day.Date != domain.MustParseDate("2024-06-01") {
		t.Errorf("Date = %s", day.Date)
	}
	want := DailySummary{Total: 1, Missed: 1, Pending: 1}
	if day.Summary != want {
		t.Errorf("Summary = %+v, want %+v", day.Summary, want)
	}
	if len(day.Due) != 1 || len(day.Due[0].Entries) != 2 {
		t.Errorf("Due = %+v", day.Due)
	}
}
