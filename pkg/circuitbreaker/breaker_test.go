package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"go.uber.org/zap/zaptest"
)

func newBreaker(t *testing.T, gauge *prometheus.GaugeVec) *Breaker {
	t.Helper()
	cfg := DefaultConfig("broker")
	cfg.ConsecutiveFailures = 2
	cfg.Cooldown = time.Hour
	cfg.StateGauge = gauge
	b, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "state"}, []string{"name"})
	b := newBreaker(t, gauge)
	ctx := context.Background()
	boom := errors.New("broker down")

	if got := testutil.ToFloat64(gauge.WithLabelValues("broker")); got != 0 {
		t.Errorf("initial state gauge = %v, want 0", got)
	}
	for i := 0; i < 2; i++ {
		if err := b.Do(ctx, func(context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d error = %v, want boom", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %s, want open", b.State())
	}
	if got := testutil.ToFloat64(gauge.WithLabelValues("broker")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !IsRejected(err) {
		t.Errorf("Do() on open breaker error = %v, want rejection", err)
	}
	if called {
		t.Error("guarded call ran while open")
	}
}

func TestCancellationDoesNotTrip(t *testing.T) {
	b := newBreaker(t, nil)
	for i := 0; i < 5; i++ {
		b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %s, want closed", b.State())
	}
	if b.Counts().TotalFailures != 0 {
		t.Errorf("TotalFailures = %d, want 0", b.Counts().TotalFailures)
	}
}

func TestReadyToTrip(t *testing.T) {
	cfg := DefaultConfig("x")
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"quiet", gobreaker.Counts{Requests: 3, TotalFailures: 1, ConsecutiveFailures: 1}, false},
		{"streak", gobreaker.Counts{Requests: 5, TotalFailures: 5, ConsecutiveFailures: 5}, true},
		{"ratio below volume", gobreaker.Counts{Requests: 9, TotalFailures: 8, ConsecutiveFailures: 1}, false},
		{"ratio", gobreaker.Counts{Requests: 10, TotalFailures: 6, ConsecutiveFailures: 1}, true},
		{"healthy volume", gobreaker.Counts{Requests: 100, TotalFailures: 10, ConsecutiveFailures: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.readyToTrip(tt.counts); got != tt.want {
				t.Errorf("readyToTrip(%+v) = %v, want %v", tt.counts, got, tt.want)
			}
		})
	}
}

func TestNewRequiresName(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("New() with empty name succeeded")
	}
}
