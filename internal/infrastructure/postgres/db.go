// Package postgres provides PostgreSQL infrastructure components: the
// pgx-backed store and the transactional outbox its writes feed.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/store"
)

// DefaultTopic receives every schedule change event.
const DefaultTopic = "medtrack.schedule.changes"

// PostgreSQL error codes mapped to domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Store is a store.Store on a pgx pool. Every write that changes a
// schedule writes its events to the outbox in the same transaction.
type Store struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL and verifies the connection. Events are
// written for topic.
func Open(ctx context.Context, databaseURL, topic string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool, topic, logger), nil
}

// New wraps an existing pool. Events are written for topic.
func New(pool *pgxpool.Pool, topic string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Store{pool: pool, topic: topic, logger: logger}
}

// Pool exposes the pool for the outbox and the idempotency keys.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) FamilyMembers() store.FamilyMembers   { return members{s} }
func (s *Store) Medications() store.Medications       { return medications{s} }
func (s *Store) Prescriptions() store.Prescriptions   { return prescriptions{s} }
func (s *Store) MedicationLogs() store.MedicationLogs { return logs{s} }
func (s *Store) Ping(ctx context.Context) error       { return s.pool.Ping(ctx) }
func (s *Store) Kind() string                         { return store.KindPostgres }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// writeEvents appends events to the outbox within tx.
func (s *Store) writeEvents(ctx context.Context, tx pgx.Tx, events ...*domain.Event) error {
	return enqueue(ctx, tx, s.topic, events...)
}

// mapError turns constraint violations into domain errors.
func mapError(err error, conflict func() error, missing string) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		if conflict != nil {
			return conflict()
		}
	case codeForeignKeyViolation:
		if missing != "" {
			return domain.NotFound(missing)
		}
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func toPgDate(d domain.Date) pgtype.Date {
	return pgtype.Date{Time: d.Time(), Valid: true}
}

func toPgDatePtr(d *domain.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return toPgDate(*d)
}

func fromPgDatePtr(d pgtype.Date) *domain.Date {
	if !d.Valid {
		return nil
	}
	out := domain.DateOf(d.Time)
	return &out
}

func nullString(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
