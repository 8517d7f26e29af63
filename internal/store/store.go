// Package store declares the persistence contracts the services depend on.
// Implementations live under internal/infrastructure.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/domain/prescription"
)

// Backend names accepted by DATABASE_TYPE.
const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindMemory   = "memory"
)

// FamilyMembers persists family members. Listings are ordered by name.
type FamilyMembers interface {
	Create(ctx context.Context, m *family.Member) error
	Get(ctx context.Context, id uuid.UUID) (*family.Member, error)
	List(ctx context.Context, f family.Filter) ([]*family.Member, error)
	Update(ctx context.Context, m *family.Member) error
	// Delete removes the member with its prescriptions and their logs.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Medications persists the catalogue. Listings are ordered by name.
type Medications interface {
	// Create fails with Conflict when the name is taken.
	Create(ctx context.Context, m *medication.Medication) error
	Get(ctx context.Context, id uuid.UUID) (*medication.Medication, error)
	List(ctx context.Context, search string) ([]*medication.Medication, error)
	// Update fails with Conflict when renaming onto a taken name.
	Update(ctx context.Context, m *medication.Medication) error
	// Delete fails with Conflict while any prescription references id.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Prescriptions persists prescriptions and publishes their recorded
// changes. Listings are ordered by creation.
type Prescriptions interface {
	// Create inserts p. An active p is refused with Conflict when another
	// active prescription exists for the same member and medication; the
	// check and the insert are atomic.
	Create(ctx context.Context, p *prescription.Prescription) error
	Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error)
	List(ctx context.Context, f prescription.Filter) ([]*prescription.Prescription, error)
	// Update saves p. With checkUnique set it runs the same atomic pair
	// check as Create.
	Update(ctx context.Context, p *prescription.Prescription, checkUnique bool) error
	// Delete removes p and its logs.
	Delete(ctx context.Context, p *prescription.Prescription) error
}

// MedicationLogs persists dose events. Listings are ordered by scheduled time.
type MedicationLogs interface {
	Create(ctx context.Context, l *medlog.Log) error
	Get(ctx context.Context, id uuid.UUID) (*medlog.Log, error)
	List(ctx context.Context, f medlog.Filter) ([]*medlog.Log, error)
	Update(ctx context.Context, l *medlog.Log) error
	Delete(ctx context.Context, id uuid.UUID) error
	// CountByPrescription returns the number of logs per prescription.
	// Prescriptions without logs are absent from the map.
	CountByPrescription(ctx context.Context) (map[uuid.UUID]int, error)
}

// Store bundles the repositories of one backend.
type Store interface {
	FamilyMembers() FamilyMembers
	Medications() Medications
	Prescriptions() Prescriptions
	MedicationLogs() MedicationLogs
	Ping(ctx context.Context) error
	Kind() string
	Close() error
}
