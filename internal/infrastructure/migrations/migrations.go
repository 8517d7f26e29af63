// Package migrations embeds the schema for every SQL backend and applies it
// with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/familyrx/medtrack/internal/store"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Migrator applies the embedded migrations of one backend.
type Migrator struct {
	m      *migrate.Migrate
	kind   string
	logger *zap.Logger
}

// Open connects to databaseURL with the database/sql driver of kind and
// prepares its migrations. Close releases the connection.
func Open(kind, databaseURL string, logger *zap.Logger) (*Migrator, error) {
	driverName, err := sqlDriver(kind)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return WithDB(db, kind, logger)
}

// WithDB prepares the migrations of kind on an open database. Closing the
// Migrator closes db.
func WithDB(db *sql.DB, kind string, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		driver database.Driver
		err    error
	)
	switch kind {
	case store.KindPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case store.KindSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("no migrations for database type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(files, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, kind, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return &Migrator{m: m, kind: kind, logger: logger}, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	mg.logVersion("database migrations completed")
	return nil
}

// Down rolls back every applied migration.
func (mg *Migrator) Down() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	mg.logVersion("database migrations rolled back")
	return nil
}

// Version reports the applied version. ok is false on an empty database.
func (mg *Migrator) Version() (version uint, dirty, ok bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return version, dirty, true, nil
}

// Close releases the source and the database.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

func (mg *Migrator) logVersion(msg string) {
	version, dirty, ok, err := mg.Version()
	if err != nil {
		mg.logger.Warn("failed to read migration version", zap.Error(err))
		return
	}
	mg.logger.Info(msg,
		zap.String("database_type", mg.kind),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
		zap.Bool("applied", ok))
}

func sqlDriver(kind string) (string, error) {
	switch kind {
	case store.KindPostgres:
		return "postgres", nil
	case store.KindSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("no migrations for database type %q", kind)
}
