package postgres

import (
	"testing"
	"time"
)

func TestRelayBackoff(t *testing.T) {
	cfg := RelayConfig{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestNewRelayFillsDefaults(t *testing.T) {
	r := NewRelay(nil, nil, RelayConfig{BaseBackoff: time.Minute, MaxBackoff: time.Second}, nil)
	def := DefaultRelayConfig()
	if r.cfg.BatchSize != def.BatchSize || r.cfg.MaxAttempts != def.MaxAttempts || r.cfg.PollInterval != def.PollInterval {
		t.Errorf("cfg = %+v", r.cfg)
	}
	if r.cfg.MaxBackoff != time.Minute {
		t.Errorf("MaxBackoff = %v, want it raised to BaseBackoff", r.cfg.MaxBackoff)
	}
}
