// Package sqlite provides the single-file store used for local and
// embedded deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/infrastructure/migrations"
	"github.com/familyrx/medtrack/internal/store"
)

// Store is a store.Store on database/sql and go-sqlite3. It keeps a single
// connection, which serialises transactions and keeps in-memory databases
// alive for the life of the store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens the database at path, ":memory:" or empty for a private
// in-memory database, and applies the embedded migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// The migrator shares db and is not closed, which would close db.
	m, err := migrations.WithDB(db, store.KindSQLite, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := m.Up(); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func dsn(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	path = strings.TrimPrefix(path, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *Store) FamilyMembers() store.FamilyMembers   { return members{s} }
func (s *Store) Medications() store.Medications       { return medications{s} }
func (s *Store) Prescriptions() store.Prescriptions   { return prescriptions{s} }
func (s *Store) MedicationLogs() store.MedicationLogs { return logs{s} }
func (s *Store) Ping(ctx context.Context) error       { return s.db.PingContext(ctx) }
func (s *Store) Kind() string                         { return store.KindSQLite }
func (s *Store) Close() error                         { return s.db.Close() }

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// recordEvents keeps the change log of this database. There is no relay
// for SQLite; the log is read back with Events.
func recordEvents(ctx context.Context, tx *sql.Tx, events ...*domain.Event) error {
	for _, e := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO change_events (id, aggregate_id, aggregate_type, event_type, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateID, e.AggregateType, string(e.EventType), string(e.EventData), e.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to record event: %w", err)
		}
	}
	return nil
}

// Events returns the recorded change events, oldest first.
func (s *Store) Events(ctx context.Context) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, payload, created_at
		 FROM change_events ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			payload string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		e.EventData = []byte(payload)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func constraint(err error) sqlite3.ErrNoExtended {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode
	}
	return 0
}

func isUnique(err error) bool {
	return constraint(err) == sqlite3.ErrConstraintUnique
}

func isForeignKey(err error) bool {
	return constraint(err) == sqlite3.ErrConstraintForeignKey
}

func nullDate(d *domain.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*domain.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s.String, nil)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
