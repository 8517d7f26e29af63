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

// ConsumerConfig configures the change event consumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// FromStart replays retained events when the group has no committed
	// offset. A fresh API instance loads the store anyway, so the default
	// starts at the end.
	FromStart        bool
	SessionTimeout   time.Duration
	MaxPollRecords   int
	FetchMaxWait     time.Duration
	CommitTimeout    time.Duration
	RebalanceTimeout time.Duration
}

// DefaultConsumerConfig returns the API instance defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:          []string{"localhost:9092"},
		GroupID:          "medtrack-api",
		SessionTimeout:   30 * time.Second,
		MaxPollRecords:   500,
		FetchMaxWait:     500 * time.Millisecond,
		CommitTimeout:    10 * time.Second,
		RebalanceTimeout: time.Minute,
	}
}

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time

	ctx context.Context
}

// Context carries the producer's trace, when the record had one.
func (m Message) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// BatchHandler processes the records of one poll. A returned error leaves
// the batch uncommitted, so it is redelivered after the next rebalance.
type BatchHandler func(ctx context.Context, batch []Message) error

// Consumer polls change topics in a consumer group and commits each batch
// after its handler returns.
type Consumer struct {
	client  *kgo.Client
	cfg     ConsumerConfig
	handler BatchHandler
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	polls    atomic.Int64
	records  atomic.Int64
	failures atomic.Int64
	lastPoll atomic.Int64
}

// NewConsumer joins cfg.GroupID. m may be nil.
func NewConsumer(cfg ConsumerConfig, handler BatchHandler, m *metrics.Metrics, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case handler == nil:
		return nil, errors.New("batch handler is required")
	case len(cfg.Brokers) == 0:
		return nil, errors.New("at least one broker is required")
	case len(cfg.Topics) == 0:
		return nil, errors.New("at least one topic is required")
	case cfg.GroupID == "":
		return nil, errors.New("consumer group is required")
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = DefaultConsumerConfig().MaxPollRecords
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultConsumerConfig().CommitTimeout
	}

	reset := kgo.NewOffset().AtEnd()
	if cfg.FromStart {
		reset = kgo.NewOffset().AtStart()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
		}),
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(cfg.SessionTimeout))
	}
	if cfg.RebalanceTimeout > 0 {
		opts = append(opts, kgo.RebalanceTimeout(cfg.RebalanceTimeout))
	}
	if cfg.FetchMaxWait > 0 {
		opts = append(opts, kgo.FetchMaxWait(cfg.FetchMaxWait))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
		metrics: m,
	}, nil
}

// Run polls until ctx is done, then commits what was handled and leaves
// the group.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started",
		zap.String("group", c.cfg.GroupID),
		zap.Strings("topics", c.cfg.Topics))
	defer c.close()

	for {
		fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			c.client.AllowRebalance()
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.failures.Add(1)
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		records := fetches.Records()
		if len(records) > 0 {
			c.handle(ctx, records)
		}
		c.client.AllowRebalance()
	}
}

func (c *Consumer) handle(ctx context.Context, records []*kgo.Record) {
	c.polls.Add(1)
	c.lastPoll.Store(time.Now().UnixNano())

	ctx, span := c.tracer.Start(ctx, "consume_batch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.consumer.group.name", c.cfg.GroupID),
			attribute.Int("messaging.batch.message_count", len(records)),
		))
	defer span.End()

	batch := make([]Message, len(records))
	for i, r := range records {
		batch[i] = Message{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
			ctx:       extractTraceContext(context.Background(), r),
		}
		if sc := trace.SpanContextFromContext(batch[i].ctx); sc.IsValid() {
			span.AddLink(trace.Link{SpanContext: sc})
		}
	}

	if err := c.handler(ctx, batch); err != nil {
		c.failures.Add(1)
		span.RecordError(err)
		c.logger.Error("batch handler failed", zap.Int("records", len(batch)), zap.Error(err))
		return
	}
	c.records.Add(int64(len(batch)))
	if c.metrics != nil {
		c.metrics.EventsConsumed.Add(float64(len(batch)))
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CommitTimeout)
	defer cancel()
	if err := c.client.CommitRecords(commitCtx, records...); err != nil {
		c.failures.Add(1)
		span.RecordError(err)
		c.logger.Error("failed to commit batch", zap.Int("records", len(records)), zap.Error(err))
	}
}

func (c *Consumer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommitTimeout)
	defer cancel()
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		c.logger.Warn("failed to commit offsets on close", zap.Error(err))
	}
	c.client.Close()
	c.logger.Info("consumer stopped", zap.Int64("records", c.records.Load()))
}

// ConsumerStats counts handled polls and records.
type ConsumerStats struct {
	Polls    int64
	Records  int64
	Failures int64
	LastPoll time.Time
}

// Stats is safe to call while Run is active.
func (c *Consumer) Stats() ConsumerStats {
	s := ConsumerStats{
		Polls:    c.polls.Load(),
		Records:  c.records.Load(),
		Failures: c.failures.Load(),
	}
	if ns := c.lastPoll.Load(); ns > 0 {
		s.LastPoll = time.Unix(0, ns)
	}
	return s
}
