package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
)

const memberColumns = `id, name, type, date_of_birth, gender, species, created_at, updated_at`

type members struct{ s *Store }

func scanMember(row scanner) (*family.Member, error) {
	var (
		m       family.Member
		dob     pgtype.Date
		gender  pgtype.Text
		species pgtype.Text
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Type, &dob, &gender, &species, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.DateOfBirth = fromPgDatePtr(dob)
	m.Gender = family.Gender(gender.String)
	m.Species = family.Species(species.String)
	return &m, nil
}

func (r members) Create(ctx context.Context, m *family.Member) error {
	query := `
		INSERT INTO family_members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.s.pool.Exec(ctx, query,
		m.ID, m.Name, m.Type, toPgDatePtr(m.DateOfBirth),
		nullString(string(m.Gender)), nullString(string(m.Species)),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert family member: %w", err)
	}
	return nil
}

func (r members) Get(ctx context.Context, id uuid.UUID) (*family.Member, error) {
	m, err := scanMember(r.s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM family_members WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Family member")
	}
	return m, err
}

func (r members) List(ctx context.Context, f family.Filter) ([]*family.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM family_members
		WHERE ($1 = '' OR type = $1)
		ORDER BY name ASC, created_at ASC
	`
	rows, err := r.s.pool.Query(ctx, query, string(f.Type))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*family.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r members) Update(ctx context.Context, m *family.Member) error {
	return r.s.withTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE family_members
			SET name = $2, type = $3, date_of_birth = $4, gender = $5, species = $6, updated_at = $7
			WHERE id = $1
		`
		tag, err := tx.Exec(ctx, query,
			m.ID, m.Name, m.Type, toPgDatePtr(m.DateOfBirth),
			nullString(string(m.Gender)), nullString(string(m.Species)), m.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update family member: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFound("Family member")
		}
		return r.s.writeEvents(ctx, tx, m.UpdatedEvent())
	})
}

// Delete relies on ON DELETE CASCADE for prescriptions and their logs.
func (r members) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.withTx(ctx, func(tx pgx.Tx) error {
		m, err := scanMember(tx.QueryRow(ctx,
			`DELETE FROM family_members WHERE id = $1 RETURNING `+memberColumns, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound("Family member")
		}
		if err != nil {
			return fmt.Errorf("failed to delete family member: %w", err)
		}
		return r.s.writeEvents(ctx, tx, m.RemovedEvent())
	})
}
