package medication

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const medCols = `id, patient_id, name, purpose, instructions, timing,
	frequency, dose_per_intake, schedule_times, is_custom_schedule, duration,
	start_date, end_date, is_active, total_stock, current_stock,
	created_at, updated_at`

func scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Purpose, &m.Instructions,
		&m.Timing, &m.Frequency, &m.DosePerIntake, &m.ScheduleTimes,
		&m.IsCustom, &m.Duration, &m.StartDate, &m.EndDate, &m.IsActive,
		&m.TotalStock, &m.CurrentStock, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication (id, patient_id, name, purpose, instructions, timing,
			frequency, dose_per_intake, schedule_times, is_custom_schedule, duration,
			start_date, end_date, is_active, total_stock, current_stock)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, m.PatientID, m.Name, m.Purpose, m.Instructions, m.Timing,
		m.Frequency, m.DosePerIntake, m.ScheduleTimes, m.IsCustom, m.Duration,
		m.StartDate, m.EndDate, m.IsActive, m.TotalStock, m.CurrentStock)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, patientID, id uuid.UUID) (*Medication, error) {
	return scanMed(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medCols+` FROM medication WHERE id = $1 AND patient_id = $2`, id, patientID))
}

func (r *repoPG) Update(ctx context.Context, m *Medication) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET name=$3, purpose=$4, instructions=$5, timing=$6,
			frequency=$7, dose_per_intake=$8, schedule_times=$9, is_custom_schedule=$10,
			duration=$11, start_date=$12, end_date=$13, is_active=$14,
			total_stock=$15, current_stock=$16, updated_at=NOW()
		WHERE id = $1 AND patient_id = $2`,
		m.ID, m.PatientID, m.Name, m.Purpose, m.Instructions, m.Timing,
		m.Frequency, m.DosePerIntake, m.ScheduleTimes, m.IsCustom, m.Duration,
		m.StartDate, m.EndDate, m.IsActive, m.TotalStock, m.CurrentStock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, patientID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM medication WHERE id = $1 AND patient_id = $2`, id, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	where := ` WHERE patient_id = $1`
	if activeOnly {
		where += ` AND is_active`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medication`+where, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medCols+` FROM medication`+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Medication
	for rows.Next() {
		m, err := scanMed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateSchedule(ctx context.Context, patientID, id uuid.UUID, times []string, isCustom bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET schedule_times=$3, is_custom_schedule=$4, updated_at=NOW()
		WHERE id = $1 AND patient_id = $2`,
		id, patientID, times, isCustom)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// lockMed reads a medication row under FOR UPDATE inside the current
// transaction.
func (r *repoPG) lockMed(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return scanMed(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medCols+` FROM medication WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) saveStock(ctx context.Context, m *Medication) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET current_stock=$2, total_stock=$3, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.CurrentStock, m.TotalStock)
	return err
}

func (r *repoPG) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*Medication, error) {
	var out *Medication
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		m, err := r.lockMed(ctx, id)
		if err != nil {
			return err
		}
		if m.CurrentStock == nil {
			out = m
			return nil
		}
		cur := *m.CurrentStock + delta
		if cur < 0 {
			cur = 0
		}
		if m.TotalStock != nil && cur > *m.TotalStock {
			cur = *m.TotalStock
		}
		m.CurrentStock = &cur
		out = m
		return r.saveStock(ctx, m)
	})
	return out, err
}

func (r *repoPG) Refill(ctx context.Context, id uuid.UUID, amount int, newTotal *int) (*Medication, error) {
	var out *Medication
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		m, err := r.lockMed(ctx, id)
		if err != nil {
			return err
		}
		cur := amount
		if m.CurrentStock != nil {
			cur = *m.CurrentStock + amount
		}
		if newTotal != nil {
			m.TotalStock = newTotal
		}
		if m.TotalStock != nil && cur > *m.TotalStock {
			cur = *m.TotalStock
		}
		m.CurrentStock = &cur
		out = m
		return r.saveStock(ctx, m)
	})
	return out, err
}

func (r *repoPG) SetCurrentStock(ctx context.Context, id uuid.UUID, current int) (*Medication, error) {
	var out *Medication
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		m, err := r.lockMed(ctx, id)
		if err != nil {
			return err
		}
		if m.TotalStock != nil && current > *m.TotalStock {
			current = *m.TotalStock
		}
		m.CurrentStock = &current
		out = m
		return r.saveStock(ctx, m)
	})
	return out, err
}
