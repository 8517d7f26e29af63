package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/pkg/circuitbreaker"
)

type countingInvalidator struct {
	sources []string
}

func (c *countingInvalidator) Invalidate(source string) {
	c.sources = append(c.sources, source)
}

func changeEvent(t *testing.T, typ domain.EventType) []byte {
	t.Helper()
	event := domain.NewEvent(domain.AggregatePrescription, uuid.New(), typ,
		domain.ChangeData{FamilyMemberID: uuid.NewString()})
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return value
}

func TestEventHandlerInvalidatesOncePerBatch(t *testing.T) {
	inv := &countingInvalidator{}
	handle := NewEventHandler(inv, zaptest.NewLogger(t))

	batch := []Message{
		{Topic: "changes", Offset: 1, Value: changeEvent(t, domain.EventPrescriptionCreated)},
		{Topic: "changes", Offset: 2, Value: []byte("not json")},
		{Topic: "changes", Offset: 3, Value: changeEvent(t, domain.EventPrescriptionDeactivated)},
	}
	if err := handle(context.Background(), batch); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(inv.sources) != 1 || inv.sources[0] != "event" {
		t.Errorf("Invalidate calls = %v, want [event]", inv.sources)
	}
}

func TestEventHandlerSkipsGarbage(t *testing.T) {
	inv := &countingInvalidator{}
	handle := NewEventHandler(inv, zaptest.NewLogger(t))

	batch := []Message{{Value: []byte("not json")}, {Value: []byte("{}")}}
	if err := handle(context.Background(), batch); err != nil {
		t.Errorf("handler error = %v, want nil", err)
	}
	if len(inv.sources) != 0 {
		t.Errorf("Invalidate called %d times for undecodable records", len(inv.sources))
	}
}

func TestMessageContextDefaults(t *testing.T) {
	if (Message{}).Context() == nil {
		t.Error("Context() = nil for a message without trace headers")
	}
}

func TestNewConsumerValidates(t *testing.T) {
	noop := func(context.Context, []Message) error { return nil }
	tests := []struct {
		name    string
		cfg     ConsumerConfig
		handler BatchHandler
	}{
		{"no handler", ConsumerConfig{Brokers: []string{"b:9092"}, GroupID: "g", Topics: []string{"t"}}, nil},
		{"no brokers", ConsumerConfig{GroupID: "g", Topics: []string{"t"}}, noop},
		{"no topics", ConsumerConfig{Brokers: []string{"b:9092"}, GroupID: "g"}, noop},
		{"no group", ConsumerConfig{Brokers: []string{"b:9092"}, Topics: []string{"t"}}, noop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConsumer(tt.cfg, tt.handler, nil, zaptest.NewLogger(t)); err == nil {
				t.Error("NewConsumer() error = nil")
			}
		})
	}
}

func TestHeaderCarrierRoundTrip(t *testing.T) {
	prop := propagation.TraceContext{}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "other", Value: []byte("x")}}}
	prop.Inject(ctx, headerCarrier{record})

	if len(record.Headers) != 2 {
		t.Fatalf("headers = %v, want other plus traceparent", record.Headers)
	}
	got := trace.SpanContextFromContext(prop.Extract(context.Background(), headerCarrier{record}))
	if got.TraceID() != sc.TraceID() || got.SpanID() != sc.SpanID() {
		t.Errorf("extracted %v/%v, want %v/%v", got.TraceID(), got.SpanID(), sc.TraceID(), sc.SpanID())
	}

	// Injecting again replaces rather than duplicates.
	prop.Inject(ctx, headerCarrier{record})
	if len(record.Headers) != 2 {
		t.Errorf("headers after second inject = %d, want 2", len(record.Headers))
	}
}

type flakyPublisher struct {
	err   error
	calls int
}

func (f *flakyPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	f.calls++
	return f.err
}

func TestGuardedPublisherFailsFast(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("redpanda")
	cfg.ConsecutiveFailures = 1
	cb, err := circuitbreaker.New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	next := &flakyPublisher{err: errors.New("no brokers")}
	pub := NewGuardedPublisher(next, cb)

	if err := pub.Publish(context.Background(), "t", "k", nil); err == nil {
		t.Fatal("first Publish() error = nil")
	}
	err = pub.Publish(context.Background(), "t", "k", nil)
	if !circuitbreaker.IsRejected(err) {
		t.Errorf("second Publish() error = %v, want rejection", err)
	}
	if next.calls != 1 {
		t.Errorf("producer called %d times, want 1", next.calls)
	}
}

func TestChangeTopicsIncludesDeadLetter(t *testing.T) {
	topics := ChangeTopics("medtrack.schedule.changes")
	if len(topics) != 2 {
		t.Fatalf("len = %d, want 2", len(topics))
	}
	if topics[1].Name != "medtrack.schedule.changes.dlq" {
		t.Errorf("dead letter topic = %q", topics[1].Name)
	}
}

func TestNewProducerRejectsUnknownCompression(t *testing.T) {
	cfg := DefaultProducerConfig()
	cfg.Compression = "brotli"
	if _, err := NewProducer(cfg, nil, zaptest.NewLogger(t)); err == nil {
		t.Error("NewProducer() error = nil for an unknown codec")
	}
	cfg.Brokers = nil
	if _, err := NewProducer(DefaultProducerConfig(), nil, nil); err != nil {
		t.Errorf("NewProducer(defaults) error = %v", err)
	}
}
