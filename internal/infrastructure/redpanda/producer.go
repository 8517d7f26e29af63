// Package redpanda publishes and consumes schedule change events over a
// Kafka-compatible broker with franz-go.
package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/observability/metrics"
)

// ProducerConfig configures the relay's producer. Writes are always
// idempotent with acks from every in-sync replica.
type ProducerConfig struct {
	Brokers         []string
	ClientID        string
	Linger          time.Duration
	Compression     string
	DeliveryTimeout time.Duration
}

// DefaultProducerConfig returns the relay defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:         []string{"localhost:9092"},
		ClientID:        "medtrack-outbox-relay",
		Linger:          5 * time.Millisecond,
		Compression:     "snappy",
		DeliveryTimeout: 30 * time.Second,
	}
}

var codecs = map[string]kgo.CompressionCodec{
	"none":   kgo.NoCompression(),
	"gzip":   kgo.GzipCompression(),
	"snappy": kgo.SnappyCompression(),
	"lz4":    kgo.Lz4Compression(),
	"zstd":   kgo.ZstdCompression(),
}

// Producer sends change events. It satisfies Publisher.
type Producer struct {
	client  *kgo.Client
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	sent     atomic.Int64
	bytes    atomic.Int64
	failures atomic.Int64
}

// NewProducer creates a producer. m may be nil.
func NewProducer(cfg ProducerConfig, m *metrics.Metrics, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(cfg.Linger))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}
	if cfg.Compression != "" {
		codec, ok := codecs[cfg.Compression]
		if !ok {
			return nil, fmt.Errorf("unknown compression %q", cfg.Compression)
		}
		opts = append(opts, kgo.ProducerBatchCompression(codec))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Producer{
		client:  client,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-producer"),
		metrics: m,
	}, nil
}

// Publish sends one record and waits for the broker to acknowledge it.
// The current trace travels in the record headers.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.kafka.message.key", key),
			attribute.Int("messaging.message.body.size", len(value)),
		))
	defer span.End()

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	injectTraceHeaders(ctx, record)

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.failures.Add(1)
		span.RecordError(err)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.sent.Add(1)
	p.bytes.Add(int64(len(value)))
	if p.metrics != nil {
		p.metrics.EventsProduced.Inc()
	}
	span.SetAttributes(
		attribute.Int64("messaging.kafka.destination.partition", int64(record.Partition)),
		attribute.Int64("messaging.kafka.message.offset", record.Offset),
	)
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("failed to flush producer on close", zap.Error(err))
	}
	p.client.Close()
}

// ProducerStats counts published records.
type ProducerStats struct {
	Sent     int64
	Bytes    int64
	Failures int64
}

// Stats is safe for concurrent use.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Sent:     p.sent.Load(),
		Bytes:    p.bytes.Load(),
		Failures: p.failures.Load(),
	}
}
