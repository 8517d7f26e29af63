package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
)

// relayLockID keeps a single relay draining the outbox at a time.
const relayLockID = int64(0x6d6564747261636b)

// enqueue appends events to the outbox within tx, so they commit or roll
// back with the change they describe.
func enqueue(ctx context.Context, tx pgx.Tx, topic string, events ...*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", e.EventType, err)
		}
		batch.Queue(`
			INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.AggregateType, e.AggregateID, string(e.EventType), topic, e.Key(), payload)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to enqueue change events: %w", err)
	}
	return nil
}

// Publisher delivers one record to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// MaxAttempts failed publishes move an event to DeadLetterTopic.
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	DeadLetterTopic string
	// Unavailable reports publish errors meaning the broker cannot be tried
	// right now, such as an open circuit. They end the pass without
	// charging an attempt to the event.
	Unavailable func(error) bool
}

// DefaultRelayConfig returns the relay defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:       100,
		PollInterval:    500 * time.Millisecond,
		MaxAttempts:     5,
		BaseBackoff:     time.Second,
		MaxBackoff:      5 * time.Minute,
		DeadLetterTopic: DefaultTopic + ".dlq",
	}
}

// backoff is the wait before retry number attempts, doubling from
// BaseBackoff up to MaxBackoff.
func (c RelayConfig) backoff(attempts int) time.Duration {
	d := c.BaseBackoff
	for i := 1; i < attempts && d < c.MaxBackoff; i++ {
		d *= 2
	}
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// Relay publishes outbox rows to the broker in id order per partition key.
type Relay struct {
	pool   *pgxpool.Pool
	pub    Publisher
	cfg    RelayConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRelay returns a relay draining pool's outbox into pub.
func NewRelay(pool *pgxpool.Pool, pub Publisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRelayConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Relay{pool: pool, pub: pub, cfg: cfg, logger: logger, tracer: otel.Tracer("outbox-relay")}
}

// Run drains the outbox every PollInterval until ctx is done. A full
// batch is followed by another pass without waiting.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay running",
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("max_attempts", r.cfg.MaxAttempts))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		wait := r.cfg.PollInterval
		res, err := r.Drain(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Error("outbox pass failed", zap.Error(err))
		case res.Deferred:
			r.logger.Warn("publisher unavailable, deferring outbox", zap.Int("published", res.Published))
		case res.Published+res.Retried+res.DeadLettered >= r.cfg.BatchSize:
			wait = 0
		}
		timer.Reset(wait)
	}
}

// DrainResult summarises one pass.
type DrainResult struct {
	Published    int
	Retried      int
	DeadLettered int
	// Deferred is set when the pass stopped on an unavailable publisher.
	Deferred bool
}

type outboxRow struct {
	id        int64
	eventID   string
	eventType string
	topic     string
	key       string
	payload   json.RawMessage
	attempts  int
	createdAt time.Time
}

// Drain publishes one batch of due events. Rows stay locked until the pass
// commits and a transaction-scoped advisory lock keeps other relays out.
// Once an event for a key fails, later events for that key wait for it.
func (r *Relay) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	ctx, span := r.tracer.Start(ctx, "outbox.drain")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, relayLockID).Scan(&locked); err != nil {
		return res, fmt.Errorf("failed to take relay lock: %w", err)
	}
	if !locked {
		return res, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, event_type, topic, partition_key, payload, attempts, created_at
		FROM outbox
		WHERE published_at IS NULL AND dead_lettered_at IS NULL AND next_attempt_at <= NOW()
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, r.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to load due events: %w", err)
	}
	due, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outboxRow, error) {
		var o outboxRow
		err := row.Scan(&o.id, &o.eventID, &o.eventType, &o.topic, &o.key, &o.payload, &o.attempts, &o.createdAt)
		return o, err
	})
	if err != nil {
		return res, fmt.Errorf("failed to scan due events: %w", err)
	}
	span.SetAttributes(attribute.Int("outbox.due", len(due)))

	blocked := make(map[string]bool)
	for _, o := range due {
		if blocked[o.key] {
			continue
		}
		pubErr := r.pub.Publish(ctx, o.topic, o.key, o.payload)
		if pubErr == nil {
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET published_at = NOW(), attempts = attempts + 1, last_error = NULL
				WHERE id = $1`, o.id); err != nil {
				return res, fmt.Errorf("failed to mark event %s published: %w", o.eventID, err)
			}
			res.Published++
			continue
		}
		if r.cfg.Unavailable != nil && r.cfg.Unavailable(pubErr) {
			res.Deferred = true
			break
		}

		blocked[o.key] = true
		span.RecordError(pubErr)
		dead, err := r.fail(ctx, tx, o, pubErr)
		if err != nil {
			return res, err
		}
		if dead {
			res.DeadLettered++
		} else {
			res.Retried++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	span.SetAttributes(
		attribute.Int("outbox.published", res.Published),
		attribute.Int("outbox.retried", res.Retried),
		attribute.Int("outbox.dead_lettered", res.DeadLettered),
	)
	return res, nil
}

type deadLetter struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OriginalTopic string          `json:"original_topic"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error"`
	QueuedAt      time.Time       `json:"queued_at"`
	Event         json.RawMessage `json:"event"`
}

// fail records a failed publish. The event is dead-lettered once it has
// used MaxAttempts and the dead letter publish succeeds, otherwise it is
// rescheduled with backoff.
func (r *Relay) fail(ctx context.Context, tx pgx.Tx, o outboxRow, pubErr error) (bool, error) {
	attempts := o.attempts + 1
	log := r.logger.With(
		zap.String("event_id", o.eventID),
		zap.String("event_type", o.eventType),
		zap.Int("attempts", attempts),
		zap.Error(pubErr))

	if attempts >= r.cfg.MaxAttempts && r.cfg.DeadLetterTopic != "" {
		body, _ := json.Marshal(deadLetter{
			EventID:       o.eventID,
			EventType:     o.eventType,
			OriginalTopic: o.topic,
			Attempts:      attempts,
			LastError:     pubErr.Error(),
			QueuedAt:      o.createdAt,
			Event:         o.payload,
		})
		dlqErr := r.pub.Publish(ctx, r.cfg.DeadLetterTopic, o.key, body)
		if dlqErr == nil {
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET dead_lettered_at = NOW(), attempts = $2, last_error = $3
				WHERE id = $1`, o.id, attempts, pubErr.Error()); err != nil {
				return false, fmt.Errorf("failed to mark event %s dead-lettered: %w", o.eventID, err)
			}
			log.Warn("change event dead-lettered", zap.String("topic", r.cfg.DeadLetterTopic))
			return true, nil
		}
		log.Error("dead letter publish failed", zap.NamedError("dlq_error", dlqErr))
	}

	wait := r.cfg.backoff(attempts)
	if _, err := tx.Exec(ctx, `
		UPDATE outbox
		SET attempts = $2, last_error = $3, next_attempt_at = NOW() + make_interval(secs => $4)
		WHERE id = $1`, o.id, attempts, pubErr.Error(), wait.Seconds()); err != nil {
		return false, fmt.Errorf("failed to reschedule event %s: %w", o.eventID, err)
	}
	log.Warn("change event publish failed, rescheduled", zap.Duration("retry_in", wait))
	return false, nil
}

// Prune deletes published and dead-lettered events older than retention.
func (r *Relay) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE COALESCE(published_at, dead_lettered_at) < NOW() - make_interval(secs => $1)`,
		retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Backlog describes undelivered outbox events.
type Backlog struct {
	Due           int64
	Waiting       int64
	Published24h  int64
	DeadLettered  int64
	OldestPending *time.Time
}

// Pending counts events not yet published or dead-lettered.
func (b Backlog) Pending() int64 { return b.Due + b.Waiting }

// Backlog reads outbox counters.
func (r *Relay) Backlog(ctx context.Context) (Backlog, error) {
	var b Backlog
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE published_at IS NULL AND dead_lettered_at IS NULL AND next_attempt_at <= NOW()),
			COUNT(*) FILTER (WHERE published_at IS NULL AND dead_lettered_at IS NULL AND next_attempt_at > NOW()),
			COUNT(*) FILTER (WHERE published_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE dead_lettered_at IS NOT NULL),
			MIN(created_at) FILTER (WHERE published_at IS NULL AND dead_lettered_at IS NULL)
		FROM outbox`,
	).Scan(&b.Due, &b.Waiting, &b.Published24h, &b.DeadLettered, &b.OldestPending)
	if err != nil {
		return b, fmt.Errorf("failed to read outbox backlog: %w", err)
	}
	return b, nil
}
