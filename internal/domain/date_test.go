package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	tests := []struct {
		in      string
		loc     *time.Location
		want    string
		wantErr bool
	}{
		{in: "2024-02-29", want: "2024-02-29"},
		{in: "2024-01-31T20:00:00Z", loc: time.UTC, want: "2024-01-31"},
		{in: "2024-01-31T20:00:00Z", loc: tokyo, want: "2024-02-01"},
		{in: "31/01/2024", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.in, tt.loc)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got.String() != tt.want {
			t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDateCompare(t *testing.T) {
	a, b := MustParseDate("2024-01-31"), MustParseDate("2024-02-01")
	if !a.Before(b) || a.After(b) || a.Compare(a) != 0 {
		t.Errorf("compare %s and %s failed", a, b)
	}
	if got := a.AddDays(1); got != b {
		t.Errorf("AddDays(1) = %s, want %s", got, b)
	}
}

func TestDateJSON(t *testing.T) {
	var v struct {
		D Date `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"d":"2024-03-05"}`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"d":"2024-03-05"}` {
		t.Errorf("Marshal() = %s", out)
	}
	if err := json.Unmarshal([]byte(`{"d":20240305}`), &v); err == nil {
		t.Error("Unmarshal() of a number succeeded")
	}
	// A timestamp's day depends on a location the decoder does not have.
	if err := json.Unmarshal([]byte(`{"d":"2024-03-05T23:30:00-05:00"}`), &v); err == nil {
		t.Error("Unmarshal() of a timestamp succeeded")
	}
}
