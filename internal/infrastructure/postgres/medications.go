package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/medication"
)

const medicationColumns = `id, name, dosage, frequency, instructions, created_at, updated_at`

type medications struct{ s *Store }

func scanMedication(row scanner) (*medication.Medication, error) {
	var m medication.Medication
	err := row.Scan(&m.ID, &m.Name, &m.Dosage, &m.Frequency, &m.Instructions, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r medications) Create(ctx context.Context, m *medication.Medication) error {
	query := `
		INSERT INTO medications (` + medicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.s.pool.Exec(ctx, query,
		m.ID, m.Name, m.Dosage, m.Frequency, m.Instructions, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return mapError(err, medication.DuplicateName, "")
	}
	return nil
}

func (r medications) Get(ctx context.Context, id uuid.UUID) (*medication.Medication, error) {
	m, err := scanMedication(r.s.pool.QueryRow(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Medication")
	}
	return m, err
}

// List matches search case-insensitively against name and instructions.
func (r medications) List(ctx context.Context, search string) ([]*medication.Medication, error) {
	query := `
		SELECT ` + medicationColumns + `
		FROM medications
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR instructions ILIKE '%' || $1 || '%'
		ORDER BY name ASC
	`
	rows, err := r.s.pool.Query(ctx, query, escapeLike(strings.TrimSpace(search)))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*medication.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r medications) Update(ctx context.Context, m *medication.Medication) error {
	return r.s.withTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE medications
			SET name = $2, dosage = $3, frequency = $4, instructions = $5, updated_at = $6
			WHERE id = $1
		`
		tag, err := tx.Exec(ctx, query, m.ID, m.Name, m.Dosage, m.Frequency, m.Instructions, m.UpdatedAt)
		if err != nil {
			return mapError(err, medication.DuplicateName, "")
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFound("Medication")
		}
		return r.s.writeEvents(ctx, tx, m.UpdatedEvent())
	})
}

// Delete relies on ON DELETE RESTRICT from prescriptions.
func (r medications) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.s.pool.Exec(ctx, `DELETE FROM medications WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return medication.InUse()
		}
		return fmt.Errorf("failed to delete medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("Medication")
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
