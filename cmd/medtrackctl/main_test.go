package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "medtrack.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("APP_ENV", "test")
	t.Setenv("TIMEZONE", "UTC")
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("medtrackctl %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestSeedThenQuery(t *testing.T) {
	useSQLite(t)

	var seeded seedOut
	if err := json.Unmarshal([]byte(run(t, "seed")), &seeded); err != nil {
		t.Fatal(err)
	}
	if len(seeded.FamilyMembers) != 2 || len(seeded.Medications) != 3 || len(seeded.Prescriptions) != 3 {
		t.Fatalf("seed = %+v", seeded)
	}

	var sched scheduleOut
	if err := json.Unmarshal([]byte(run(t, "schedule")), &sched); err != nil {
		t.Fatal(err)
	}
	if len(sched.Schedule) != 2 {
		t.Fatalf("schedule groups = %d, want 2", len(sched.Schedule))
	}
	if sched.Schedule[0].FamilyMember != "Alex" || len(sched.Schedule[0].Prescriptions) != 2 {
		t.Errorf("first group = %+v", sched.Schedule[0])
	}

	var onlyPet scheduleOut
	if err := json.Unmarshal([]byte(run(t, "schedule", "--member", seeded.FamilyMembers[1])), &onlyPet); err != nil {
		t.Fatal(err)
	}
	if len(onlyPet.Schedule) != 1 || onlyPet.Schedule[0].FamilyMember != "Biscuit" {
		t.Errorf("member schedule = %+v", onlyPet.Schedule)
	}

	var past scheduleOut
	if err := json.Unmarshal([]byte(run(t, "schedule", "2000-01-01")), &past); err != nil {
		t.Fatal(err)
	}
	if len(past.Schedule) != 0 {
		t.Errorf("schedule before any start date = %+v, want empty", past.Schedule)
	}

	var report []complianceOut
	if err := json.Unmarshal([]byte(run(t, "compliance", "report", "--days", "7")), &report); err != nil {
		t.Fatal(err)
	}
	if len(report) != 2 || report[0].Period != "Last 7 days" || report[0].ComplianceGrade != "Critical" {
		t.Errorf("report = %+v", report)
	}

	yamlOut := run(t, "schedule", "-o", "yaml")
	if !strings.Contains(yamlOut, "familyMember: Alex") {
		t.Errorf("yaml output missing member:\n%s", yamlOut)
	}
}

func TestMigrateVersion(t *testing.T) {
	useSQLite(t)

	var status migrationStatus
	if err := json.Unmarshal([]byte(run(t, "migrate", "up")), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Applied || status.Dirty || status.Version == 0 || status.DatabaseType != "sqlite" {
		t.Errorf("status = %+v", status)
	}
}

func TestRejectsUnknownOutput(t *testing.T) {
	useSQLite(t)
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"schedule", "-o", "xml"})
	if err := cmd.Execute(); err == nil {
		t.Error("Execute() with -o xml succeeded")
	}
}
