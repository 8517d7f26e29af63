// Package idempotency remembers the outcome of client requests carrying an
// Idempotency-Key so a retried request replays the first response instead of
// repeating its side effects.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of a remembered request.
type State string

const (
	StatePending   State = "pending"
	StateDone      State = "done"
	StateRetryable State = "retryable"
	StateFailed    State = "failed"
)

var (
	// ErrInFlight means another request holds the key right now.
	ErrInFlight = errors.New("idempotency: request with this key is in flight")
	// ErrFailed means the key belongs to a request that failed for good.
	ErrFailed = errors.New("idempotency: request with this key failed")
	// ErrKeyReused means the key was first used with a different body.
	ErrKeyReused = errors.New("idempotency: key reused with a different request body")
)

// Key identifies one client request. Client and Operation scope Value so
// two API clients, or two endpoints, never collide on a header value.
type Key struct {
	Client    string
	Operation string
	Value     string
}

// Hash is the primary key stored in idempotency_keys.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(k.Client + "\x00" + k.Operation + "\x00" + k.Value))
	return hex.EncodeToString(sum[:])
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config tunes how long keys live and when a pending key is abandoned.
type Config struct {
	TTL           time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// IsTerminal reports errors that must not be retried under the same
	// key, typically validation and not-found errors. Nil retries all.
	IsTerminal func(error) bool
}

// DefaultConfig keeps keys for a day.
func DefaultConfig() Config {
	return Config{
		TTL:           24 * time.Hour,
		StaleAfter:    5 * time.Minute,
		SweepInterval: time.Hour,
	}
}

// Func performs the request and returns the response body to remember.
type Func func(ctx context.Context) (json.RawMessage, error)

// Outcome of Do.
type Outcome struct {
	Response json.RawMessage
	Replayed bool
	Attempt  int
}

// Store keeps request outcomes in Postgres.
type Store struct {
	db     Querier
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore returns a Store over db.
func NewStore(db Querier, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultConfig().StaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Store{db: db, cfg: cfg, logger: logger, tracer: otel.Tracer("idempotency")}
}

type record struct {
	State       State
	RequestHash string
	Response    json.RawMessage
	Attempts    int
	UpdatedAt   time.Time
}

// Do runs fn once per key. A finished key replays its response; a key whose
// body differs from the first use is rejected with ErrKeyReused.
func (s *Store) Do(ctx context.Context, key Key, body []byte, fn Func) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "idempotency.do",
		trace.WithAttributes(
			attribute.String("idempotency.operation", key.Operation),
			attribute.String("idempotency.client", key.Client),
		))
	defer span.End()

	id := key.Hash()
	hash := fingerprint(body)

	rec, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if rec.RequestHash != hash {
			return nil, ErrKeyReused
		}
		switch rec.State {
		case StateDone:
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return &Outcome{Response: rec.Response, Replayed: true, Attempt: rec.Attempts}, nil
		case StateFailed:
			return nil, fmt.Errorf("%w: %s", ErrFailed, errorText(rec.Response))
		case StatePending:
			if time.Since(rec.UpdatedAt) < s.cfg.StaleAfter {
				return nil, ErrInFlight
			}
			s.logger.Warn("reclaiming stale idempotency key",
				zap.String("operation", key.Operation),
				zap.Duration("age", time.Since(rec.UpdatedAt)))
		}
	}

	attempt, err := s.claim(ctx, id, key, hash)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("idempotency.attempt", attempt))

	resp, runErr := fn(ctx)
	if runErr != nil {
		state := StateRetryable
		if s.cfg.IsTerminal != nil && s.cfg.IsTerminal(runErr) {
			state = StateFailed
		}
		errBody, _ := json.Marshal(map[string]string{"error": runErr.Error()})
		if err := s.settle(ctx, id, state, errBody); err != nil {
			s.logger.Error("failed to record request failure", zap.String("operation", key.Operation), zap.Error(err))
		}
		span.RecordError(runErr)
		return nil, runErr
	}

	if err := s.settle(ctx, id, StateDone, resp); err != nil {
		// The key stays pending and is reclaimed after StaleAfter.
		s.logger.Error("failed to record response", zap.String("operation", key.Operation), zap.Error(err))
	}
	return &Outcome{Response: resp, Attempt: attempt}, nil
}

func (s *Store) lookup(ctx context.Context, id string) (*record, error) {
	var rec record
	err := s.db.QueryRow(ctx, `
		SELECT state, request_hash, response, attempts, updated_at
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > NOW()`, id,
	).Scan(&rec.State, &rec.RequestHash, &rec.Response, &rec.Attempts, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &rec, nil
}

// claim inserts the key as pending, or takes over a retryable, stale or
// expired row. Losing the race to a concurrent request yields ErrInFlight.
func (s *Store) claim(ctx context.Context, id string, key Key, hash string) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (key, client_id, operation, request_hash, state, attempts, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', 1, NOW() + make_interval(secs => $5))
		ON CONFLICT (key) DO UPDATE
		SET state = 'pending',
		    request_hash = EXCLUDED.request_hash,
		    response = NULL,
		    attempts = idempotency_keys.attempts + 1,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
		WHERE idempotency_keys.state = 'retryable'
		   OR idempotency_keys.expires_at <= NOW()
		   OR (idempotency_keys.state = 'pending' AND idempotency_keys.updated_at < NOW() - make_interval(secs => $6))
		RETURNING attempts`,
		id, key.Client, key.Operation, hash, s.cfg.TTL.Seconds(), s.cfg.StaleAfter.Seconds(),
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInFlight
	}
	if err != nil {
		return 0, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return attempts, nil
}

func (s *Store) settle(ctx context.Context, id string, state State, response json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		UPDATE idempotency_keys
		SET state = $2, response = $3, updated_at = NOW()
		WHERE key = $1`, id, state, response)
	return err
}

func errorText(response json.RawMessage) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(response, &body) != nil || body.Error == "" {
		return "unknown error"
	}
	return body.Error
}

// Sweep deletes expired keys and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("idempotency sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired idempotency keys removed", zap.Int64("count", n))
			}
		}
	}
}

// Counts is the number of live keys per state.
type Counts map[State]int64

// Counts groups live keys by state.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var pending, done, retryable, failed int64
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'pending'),
			COUNT(*) FILTER (WHERE state = 'done'),
			COUNT(*) FILTER (WHERE state = 'retryable'),
			COUNT(*) FILTER (WHERE state = 'failed')
		FROM idempotency_keys
		WHERE expires_at > NOW()`,
	).Scan(&pending, &done, &retryable, &failed)
	if err != nil {
		return nil, fmt.Errorf("failed to count idempotency keys: %w", err)
	}
	return Counts{StatePending: pending, StateDone: done, StateRetryable: retryable, StateFailed: failed}, nil
}
