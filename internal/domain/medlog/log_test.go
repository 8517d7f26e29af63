package medlog

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
)

var (
	now       = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	scheduled = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

func timePtr(t time.Time) *time.Time { return &t }
func statusPtr(s Status) *Status     { return &s }
func strPtr(s string) *string        { return &s }

func TestNewStampsTakenTime(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		taken     *time.Time
		wantTaken *time.Time
		wantErr   bool
	}{
		{name: "taken without time stamps now", status: StatusTaken, wantTaken: &now},
		{name: "default status is taken", status: "", wantTaken: &now},
		{name: "taken with time keeps it", status: StatusTaken, taken: timePtr(scheduled), wantTaken: &scheduled},
		{name: "missed stays without time", status: StatusMissed},
		{name: "pending is not storable", status: StatusPending, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(uuid.New(), scheduled, tt.status, tt.taken, "", now)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("New() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			switch {
			case tt.wantTaken == nil && l.TakenTime != nil:
				t.Errorf("TakenTime = %v, want nil", *l.TakenTime)
			case tt.wantTaken != nil && (l.TakenTime == nil || !l.TakenTime.Equal(*tt.wantTaken)):
				t.Errorf("TakenTime = %v, want %v", l.TakenTime, *tt.wantTaken)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	l, err := New(uuid.New(), scheduled, StatusTaken, nil, "", now)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.MarkMissed(now)
	if l.Status != StatusMissed || l.TakenTime != nil {
		t.Errorf("after MarkMissed: status=%s taken=%v", l.Status, l.TakenTime)
	}

	l.MarkTaken(nil, now)
	if l.Status != StatusTaken || l.TakenTime == nil || !l.TakenTime.Equal(now) {
		t.Errorf("after MarkTaken(nil): status=%s taken=%v", l.Status, l.TakenTime)
	}

	at := scheduled.Add(5 * time.Minute)
	l.MarkTaken(&at, now)
	if !l.TakenTime.Equal(at) {
		t.Errorf("MarkTaken(at) TakenTime = %v, want %v", l.TakenTime, at)
	}

	l.Notes = "original"
	l.MarkSkipped(nil, now)
	if l.Status != StatusSkipped || l.TakenTime != nil || l.Notes != "original" {
		t.Errorf("after MarkSkipped(nil): %+v", l)
	}
	l.MarkSkipped(strPtr("vomited"), now)
	if l.Notes != "vomited" {
		t.Errorf("Notes = %q, want %q", l.Notes, "vomited")
	}
}

func TestApply(t *testing.T) {
	l, _ := New(uuid.New(), scheduled, StatusMissed, nil, "", now)

	if err := l.Apply(Patch{Status: statusPtr(StatusTaken)}, now); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if l.TakenTime == nil || !l.TakenTime.Equal(now) {
		t.Errorf("taken without time: TakenTime = %v, want %v", l.TakenTime, now)
	}

	if err := l.Apply(Patch{Status: statusPtr(StatusSkipped)}, now); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if l.TakenTime != nil {
		t.Errorf("skipped keeps TakenTime = %v", *l.TakenTime)
	}

	if err := l.Apply(Patch{Status: statusPtr("late")}, now); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Apply(invalid status) error = %v, want ErrValidation", err)
	}
	if l.Status != StatusSkipped {
		t.Errorf("invalid Apply changed status to %s", l.Status)
	}
}

func TestIsLate(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		taken  *time.Time
		want   bool
	}{
		{"taken after schedule", StatusTaken, timePtr(scheduled.Add(time.Minute)), true},
		{"taken on time", StatusTaken, timePtr(scheduled), false},
		{"taken early", StatusTaken, timePtr(scheduled.Add(-time.Minute)), false},
		{"missed", StatusMissed, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Log{ScheduledTime: scheduled, Status: tt.status, TakenTime: tt.taken}
			if got := l.IsLate(); got != tt.want {
				t.Errorf("IsLate() = %v, want %v", got, tt.want)
			}
		})
	}
}
