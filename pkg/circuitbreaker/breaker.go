// Package circuitbreaker wraps sony/gobreaker for calls to the event
// broker, reporting state to Prometheus and call outcomes to OpenTelemetry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// gaugeValue is the value exported for s: closed 0, half-open 1, open 2.
func gaugeValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Config tunes when the breaker opens.
type Config struct {
	Name string
	// Probes is how many calls a half-open breaker lets through.
	Probes uint32
	// Window clears the closed-state counts periodically. Zero never clears.
	Window time.Duration
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// ConsecutiveFailures opens the breaker regardless of volume.
	ConsecutiveFailures uint32
	// FailureRatio opens the breaker once MinCalls have been seen.
	FailureRatio float64
	MinCalls     uint32
	// StateGauge, when set, is labelled by Name.
	StateGauge *prometheus.GaugeVec
}

// DefaultConfig returns the relay defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		Probes:              1,
		Window:              time.Minute,
		Cooldown:            15 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		MinCalls:            10,
	}
}

func (c Config) readyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}
	return c.MinCalls > 0 && counts.Requests >= c.MinCalls &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

// Breaker guards calls to one dependency.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	gauge  *prometheus.GaugeVec
	logger *zap.Logger
	tracer trace.Tracer
	calls  metric.Int64Counter
}

// New returns a closed breaker.
func New(cfg Config, logger *zap.Logger) (*Breaker, error) {
	if cfg.Name == "" {
		return nil, errors.New("circuit breaker name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	calls, err := otel.Meter("circuitbreaker").Int64Counter("circuit_breaker.calls",
		metric.WithDescription("Calls through a circuit breaker by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call counter: %w", err)
	}

	b := &Breaker{
		name:   cfg.Name,
		gauge:  cfg.StateGauge,
		logger: logger,
		tracer: otel.Tracer("circuitbreaker"),
		calls:  calls,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.Probes,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: cfg.readyToTrip,
		// A cancelled caller says nothing about the dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.setGauge(stateOf(to))
			b.logger.Warn("circuit breaker state changed",
				zap.String("breaker", b.name),
				zap.String("from", string(stateOf(from))),
				zap.String("to", string(stateOf(to))))
		},
	})
	b.setGauge(StateClosed)
	return b, nil
}

// Do runs fn unless the breaker is open. Rejections satisfy IsRejected.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := b.tracer.Start(ctx, "circuitbreaker.do",
		trace.WithAttributes(
			attribute.String("breaker.name", b.name),
			attribute.String("breaker.state", string(b.State())),
		))
	defer span.End()

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	outcome := "success"
	switch {
	case IsRejected(err):
		outcome = "rejected"
		span.SetAttributes(attribute.Bool("breaker.rejected", true))
	case err != nil:
		outcome = "failure"
		span.RecordError(err)
	}
	b.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", b.name),
		attribute.String("outcome", outcome),
	))
	return err
}

// IsRejected reports whether err came from the breaker rather than the
// guarded call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// State is the breaker's current state.
func (b *Breaker) State() State {
	return stateOf(b.cb.State())
}

// Counts are the gobreaker counters of the current window.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *Breaker) setGauge(s State) {
	if b.gauge != nil {
		b.gauge.WithLabelValues(b.name).Set(gaugeValue(s))
	}
}
