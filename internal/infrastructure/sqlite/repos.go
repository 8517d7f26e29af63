package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/family"
	"github.com/familyrx/medtrack/internal/domain/medication"
	"github.com/familyrx/medtrack/internal/domain/medlog"
	"github.com/familyrx/medtrack/internal/domain/prescription"
)

const (
	memberColumns       = `id, name, type, date_of_birth, gender, species, created_at, updated_at`
	medicationColumns   = `id, name, dosage, frequency, instructions, created_at, updated_at`
	prescriptionColumns = `id, family_member_id, medication_id, start_date, end_date, active, created_at, updated_at`
	logColumns          = `l.id, l.prescription_id, l.scheduled_time, l.taken_time, l.status, l.notes, l.created_at, l.updated_at`
)

type members struct{ s *Store }

func scanMember(row scanner) (*family.Member, error) {
	var (
		m                    family.Member
		dob, gender, species sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Type, &dob, &gender, &species, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.DateOfBirth, err = parseNullDate(dob); err != nil {
		return nil, err
	}
	m.Gender = family.Gender(gender.String)
	m.Species = family.Species(species.String)
	return &m, nil
}

func (r members) Create(ctx context.Context, m *family.Member) error {
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO family_members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Type, nullDate(m.DateOfBirth), nullText(string(m.Gender)), nullText(string(m.Species)),
		m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert family member: %w", err)
	}
	return nil
}

func (r members) Get(ctx context.Context, id uuid.UUID) (*family.Member, error) {
	m, err := scanMember(r.s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM family_members WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("Family member")
	}
	return m, err
}

func (r members) List(ctx context.Context, f family.Filter) ([]*family.Member, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM family_members
		 WHERE (? = '' OR type = ?)
		 ORDER BY name ASC, rowid ASC`, string(f.Type), string(f.Type))
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
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE family_members
			 SET name = ?, type = ?, date_of_birth = ?, gender = ?, species = ?, updated_at = ?
			 WHERE id = ?`,
			m.Name, m.Type, nullDate(m.DateOfBirth), nullText(string(m.Gender)), nullText(string(m.Species)),
			m.UpdatedAt.UTC(), m.ID)
		if err != nil {
			return fmt.Errorf("failed to update family member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound("Family member")
		}
		return recordEvents(ctx, tx, m.UpdatedEvent())
	})
}

func (r members) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMember(tx.QueryRowContext(ctx,
			`SELECT `+memberColumns+` FROM family_members WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound("Family member")
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM family_members WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete family member: %w", err)
		}
		return recordEvents(ctx, tx, m.RemovedEvent())
	})
}

type medications struct{ s *Store }

func scanMedication(row scanner) (*medication.Medication, error) {
	var m medication.Medication
	if err := row.Scan(&m.ID, &m.Name, &m.Dosage, &m.Frequency, &m.Instructions, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r medications) Create(ctx context.Context, m *medication.Medication) error {
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO medications (`+medicationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Dosage, m.Frequency, m.Instructions, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if isUnique(err) {
		return medication.DuplicateName()
	}
	if err != nil {
		return fmt.Errorf("failed to insert medication: %w", err)
	}
	return nil
}

func (r medications) Get(ctx context.Context, id uuid.UUID) (*medication.Medication, error) {
	m, err := scanMedication(r.s.db.QueryRowContext(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("Medication")
	}
	return m, err
}

func (r medications) List(ctx context.Context, search string) ([]*medication.Medication, error) {
	search = strings.TrimSpace(search)
	pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search) + "%"
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+medicationColumns+` FROM medications
		 WHERE ? = '' OR name LIKE ? ESCAPE '\' OR instructions LIKE ? ESCAPE '\'
		 ORDER BY name ASC`, search, pattern, pattern)
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
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE medications SET name = ?, dosage = ?, frequency = ?, instructions = ?, updated_at = ?
			 WHERE id = ?`,
			m.Name, m.Dosage, m.Frequency, m.Instructions, m.UpdatedAt.UTC(), m.ID)
		if isUnique(err) {
			return medication.DuplicateName()
		}
		if err != nil {
			return fmt.Errorf("failed to update medication: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound("Medication")
		}
		return recordEvents(ctx, tx, m.UpdatedEvent())
	})
}

func (r medications) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, id)
	if isForeignKey(err) {
		return medication.InUse()
	}
	if err != nil {
		return fmt.Errorf("failed to delete medication: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("Medication")
	}
	return nil
}

type prescriptions struct{ s *Store }

func scanPrescription(row scanner) (*prescription.Prescription, error) {
	var (
		p     prescription.Prescription
		start string
		end   sql.NullString
		err   error
	)
	if err = row.Scan(&p.ID, &p.FamilyMemberID, &p.MedicationID, &start, &end, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if p.StartDate, err = domain.ParseDate(start, nil); err != nil {
		return nil, err
	}
	if p.EndDate, err = parseNullDate(end); err != nil {
		return nil, err
	}
	return &p, nil
}

func listPrescriptions(ctx context.Context, q dbtx, f prescription.Filter) ([]*prescription.Prescription, error) {
	var (
		where []string
		args  []any
	)
	if f.FamilyMemberID != nil {
		where = append(where, "family_member_id = ?")
		args = append(args, *f.FamilyMemberID)
	}
	if f.MedicationID != nil {
		where = append(where, "medication_id = ?")
		args = append(args, *f.MedicationID)
	}
	if f.Active != nil {
		where = append(where, "active = ?")
		args = append(args, *f.Active)
	}
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := q.QueryContext(ctx, query, args...)
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

// checkUnique runs inside the writing transaction. The store has one
// connection, so no other writer can interleave.
func checkUnique(ctx context.Context, tx *sql.Tx, p *prescription.Prescription) error {
	active := true
	peers, err := listPrescriptions(ctx, tx, prescription.Filter{
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
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkUnique(ctx, tx, p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO prescriptions (`+prescriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.FamilyMemberID, p.MedicationID, p.StartDate.String(), nullDate(p.EndDate), p.Active,
			p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if isForeignKey(err) {
			return domain.NotFound("Family member or medication")
		}
		if err != nil {
			return fmt.Errorf("failed to insert prescription: %w", err)
		}
		return recordEvents(ctx, tx, p.Changes()...)
	})
	if err != nil {
		return err
	}
	p.ClearChanges()
	return nil
}

func (r prescriptions) Get(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	p, err := scanPrescription(r.s.db.QueryRowContext(ctx,
		`SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("Prescription")
	}
	return p, err
}

func (r prescriptions) List(ctx context.Context, f prescription.Filter) ([]*prescription.Prescription, error) {
	return listPrescriptions(ctx, r.s.db, f)
}

func (r prescriptions) Update(ctx context.Context, p *prescription.Prescription, unique bool) error {
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		if unique {
			if err := checkUnique(ctx, tx, p); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE prescriptions SET start_date = ?, end_date = ?, active = ?, updated_at = ? WHERE id = ?`,
			p.StartDate.String(), nullDate(p.EndDate), p.Active, p.UpdatedAt.UTC(), p.ID)
		if err != nil {
			return fmt.Errorf("failed to update prescription: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound("Prescription")
		}
		return recordEvents(ctx, tx, p.Changes()...)
	})
	if err != nil {
		return err
	}
	p.ClearChanges()
	return nil
}

func (r prescriptions) Delete(ctx context.Context, p *prescription.Prescription) error {
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM prescriptions WHERE id = ?`, p.ID)
		if err != nil {
			return fmt.Errorf("failed to delete prescription: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound("Prescription")
		}
		return recordEvents(ctx, tx, p.Changes()...)
	})
	if err != nil {
		return err
	}
	p.ClearChanges()
	return nil
}

type logs struct{ s *Store }

func scanLog(row scanner) (*medlog.Log, error) {
	var (
		l     medlog.Log
		taken sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.PrescriptionID, &l.ScheduledTime, &taken, &l.Status, &l.Notes, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if taken.Valid {
		l.TakenTime = &taken.Time
	}
	return &l, nil
}

func takenArg(l *medlog.Log) sql.NullTime {
	if l.TakenTime == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: l.TakenTime.UTC(), Valid: true}
}

func (r logs) Create(ctx context.Context, l *medlog.Log) error {
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO medication_logs (id, prescription_id, scheduled_time, taken_time, status, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.PrescriptionID, l.ScheduledTime.UTC(), takenArg(l), l.Status, l.Notes,
		l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	if isForeignKey(err) {
		return domain.NotFound("Prescription")
	}
	if err != nil {
		return fmt.Errorf("failed to insert medication log: %w", err)
	}
	return nil
}

func (r logs) Get(ctx context.Context, id uuid.UUID) (*medlog.Log, error) {
	l, err := scanLog(r.s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM medication_logs l WHERE l.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("Medication log")
	}
	return l, err
}

func (r logs) List(ctx context.Context, f medlog.Filter) ([]*medlog.Log, error) {
	var (
		where []string
		args  []any
	)
	if f.PrescriptionID != nil {
		where = append(where, "l.prescription_id = ?")
		args = append(args, *f.PrescriptionID)
	}
	if f.FamilyMemberID != nil {
		where = append(where, "p.family_member_id = ?")
		args = append(args, *f.FamilyMemberID)
	}
	if f.From != nil {
		where = append(where, "l.scheduled_time >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, "l.scheduled_time <= ?")
		args = append(args, f.To.UTC())
	}
	query := `SELECT ` + logColumns + ` FROM medication_logs l JOIN prescriptions p ON p.id = l.prescription_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY l.scheduled_time ASC, l.rowid ASC"

	rows, err := r.s.db.QueryContext(ctx, query, args...)
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
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE medication_logs SET taken_time = ?, status = ?, notes = ?, updated_at = ? WHERE id = ?`,
		takenArg(l), l.Status, l.Notes, l.UpdatedAt.UTC(), l.ID)
	if err != nil {
		return fmt.Errorf("failed to update medication log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("Medication log")
	}
	return nil
}

func (r logs) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM medication_logs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete medication log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("Medication log")
	}
	return nil
}

func (r logs) CountByPrescription(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := r.s.db.QueryContext(ctx,
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
