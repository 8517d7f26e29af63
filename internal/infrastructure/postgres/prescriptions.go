package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/prescription"
)

const prescriptionColumns = `id, family_member_id, medication_id, start_date, end_date, active, created_at, updated_at`

type prescriptions struct{ s *Store }

func scanPrescription(row scanner) (*prescription.Prescription, error) {
	var (
		p     prescription.Prescription
		start pgtype.Date
		end   pgtype.Date
	)
	err := row.Scan(&p.ID, &p.FamilyMemberID, &p.MedicationID, &start, &end, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.StartDate = domain.DateOf(start.Time)
	p.EndDate = fromPgDatePtr(end)
	return &p, nil
}

// lockPair serialises writers of one member and medication pair until tx
// ends, so the uniqueness check and the write are atomic.
func lockPair(ctx context.Context, tx pgx.Tx, p *prescription.Prescription) error {
	key := p.FamilyMemberID.String() + "|" + p.MedicationID.String()
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return fmt.Errorf("failed to lock prescription pair: %w", err)
	}
	return nil
}

// checkUnique runs under lockPair.
func checkUnique(ctx context.Context, q querier, p *prescription.Prescription) error {
	active := true
	peers, err := listPrescriptions(ctx, q, prescription.Filter{
		FamilyMemberID: &p.FamilyMemberID,
		MedicationID:   &p.MedicationID,
		Active:         &active,
	})
	if err != nil {
		return err
	}
	return prescription.CheckUnique(p, peers)
}

func (r prescriptions) Create(ctx context.Context, p *prescription.Prescription) error {
	err := r.s.withTx(ctx, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, p); err != nil {
			return err
		}
		if err := checkUnique(ctx, tx, p); err != nil {
			return err
		}
		query := `
			INSERT INTO prescriptions (` + prescriptionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := tx.Exec(ctx, query,
			p.ID, p.FamilyMemberID, p.MedicationID,
			toPgDate(p.StartDate), toPgDatePtr(p.EndDate), p.Active,
			p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return mapError(err, nil, "Family member or medication")
		}
		return r.s.writeEvents(ctx, tx, p.Changes()...)
	})
	if err != nil {
		return err
	}
	p.ClearChanges()
	return nil
}

func (r prescriptions) Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	p, err := scanPrescription(r.s.pool.QueryRow(ctx,
		`SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Prescription")
	}
	return p, err
}

func (r prescriptions) List(ctx context.Context, f prescription.Filter) ([]*prescription.Prescription, error) {
	return listPrescriptions(ctx, r.s.pool, f)
}

func listPrescriptions(ctx context.Context, q querier, f prescription.Filter) ([]*prescription.Prescription, error) {
	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE ($1::uuid IS NULL OR family_member_id = $1)
		  AND ($2::uuid IS NULL OR medication_id = $2)
		  AND ($3::boolean IS NULL OR active = $3)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, f.FamilyMemberID, f.MedicationID, f.Active)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*prescription.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r prescriptions) Update(ctx context.Context, p *prescription.Prescription, unique bool) error {
	err := r.s.withTx(ctx, func(tx pgx.Tx) error {
		if unique {
			if err := lockPair(ctx, tx, p); err != nil {
				return err
			}
			if err := checkUnique(ctx, tx, p); err != nil {
				return err
			}
		}
		query := `
			UPDATE prescriptions
			SET start_date = $2, end_date = $3, active = $4, updated_at = $5
			WHERE id = $1
		`
		tag, err := tx.Exec(ctx, query,
			p.ID, toPgDate(p.StartDate), toPgDatePtr(p.EndDate), p.Active, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update prescription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFound("Prescription")
		}
		return r.s.writeEvents(ctx, tx, p.Changes()...)
	})
	if err != nil {
		return err
	}
	p.ClearChanges()
	return nil
}

// Delete relies on ON DELETE CASCADE for the logs.
func (r prescriptions) Delete(ctx context.Context, p *prescription.Prescription) error {
	err := r.s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, p.ID)
		if err != nil {
			return fmt.Errorf("failed to delete prescription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFound("Prescription")
		}
		return r.s.writeEvents(ctx, tx, p.Changes()...)
	})
	if err != nil {
		return err
	}
	p.ClearChanges()
	return nil
}
