package redpanda

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/pkg/circuitbreaker"
)

// Invalidator drops cached schedule state.
type Invalidator interface {
	Invalidate(source string)
}

// NewEventHandler returns a handler that invalidates the schedule snapshot
// once per batch holding at least one change event, including events this
// instance produced. Undecodable records are logged and committed with the
// batch so they cannot block the partition.
func NewEventHandler(inv Invalidator, logger *zap.Logger) BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, batch []Message) error {
		changes := make(map[domain.EventType]int)
		for _, msg := range batch {
			var event domain.Event
			if err := json.Unmarshal(msg.Value, &event); err != nil || event.EventType == "" {
				logger.Warn("dropping undecodable change event",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				continue
			}
			changes[event.EventType]++
			logger.Debug("change event received",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.EventType)),
				zap.String("trace_id", trace.SpanContextFromContext(msg.Context()).TraceID().String()))
		}
		if len(changes) == 0 {
			return nil
		}

		span := trace.SpanFromContext(ctx)
		for t, n := range changes {
			span.SetAttributes(attribute.Int("medtrack.events."+string(t), n))
		}
		inv.Invalidate("event")
		return nil
	}
}

// Publisher is the producer surface the relay depends on.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// GuardedPublisher routes Publish through a circuit breaker so a broker
// outage fails fast and leaves entries pending in the outbox.
type GuardedPublisher struct {
	next    Publisher
	breaker *circuitbreaker.Breaker
}

// NewGuardedPublisher wraps next with breaker.
func NewGuardedPublisher(next Publisher, breaker *circuitbreaker.Breaker) *GuardedPublisher {
	return &GuardedPublisher{next: next, breaker: breaker}
}

// Publish sends one record unless the breaker is open.
func (g *GuardedPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.next.Publish(ctx, topic, key, value)
	})
}
