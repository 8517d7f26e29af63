package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/medlog"
)

const logColumns = `l.id, l.prescription_id, l.scheduled_time, l.taken_time, l.status, l.notes, l.created_at, l.updated_at`

type logs struct{ s *Store }

func scanLog(row scanner) (*medlog.Log, error) {
	var l medlog.Log
	err := row.Scan(&l.ID, &l.PrescriptionID, &l.ScheduledTime, &l.TakenTime, &l.Status, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r logs) Create(ctx context.Context, l *medlog.Log) error {
	query := `
		INSERT INTO medication_logs (id, prescription_id, scheduled_time, taken_time, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.s.pool.Exec(ctx, query,
		l.ID, l.PrescriptionID, l.ScheduledTime, l.TakenTime, l.Status, l.Notes, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return mapError(err, nil, "Prescription")
	}
	return nil
}

func (r logs) Get(ctx context.Context, id uuid.UUID) (*medlog.Log, error) {
	l, err := scanLog(r.s.pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM medication_logs l WHERE l.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Medication log")
	}
	return l, err
}

func (r logs) List(ctx context.Context, f medlog.Filter) ([]*medlog.Log, error) {
	query := `
		SELECT ` + logColumns + `
		FROM medication_logs l
		JOIN prescriptions p ON p.id = l.prescription_id
		WHERE ($1::uuid IS NULL OR l.prescription_id = $1)
		  AND ($2::uuid IS NULL OR p.family_member_id = $2)
		  AND ($3::timestamptz IS NULL OR l.scheduled_time >= $3)
		  AND ($4::timestamptz IS NULL OR l.scheduled_time <= $4)
		ORDER BY l.scheduled_time ASC, l.created_at ASC
	`
	rows, err := r.s.pool.Query(ctx, query, f.PrescriptionID, f.FamilyMemberID, f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*medlog.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r logs) Update(ctx context.Context, l *medlog.Log) error {
	query := `
		UPDATE medication_logs
		SET taken_time = $2, status = $3, notes = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := r.s.pool.Exec(ctx, query, l.ID, l.TakenTime, l.Status, l.Notes, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update medication log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("Medication log")
	}
	return nil
}

func (r logs) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.s.pool.Exec(ctx, `DELETE FROM medication_logs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete medication log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("Medication log")
	}
	return nil
}

func (r logs) CountByPrescription(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := r.s.pool.Query(ctx,
		`SELECT prescription_id, COUNT(*) FROM medication_logs GROUP BY prescription_id`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			id uuid.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
