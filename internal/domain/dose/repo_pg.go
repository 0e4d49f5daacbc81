package dose

import (
	"context"
	"errors"
	"time"

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

const logCols = `id, patient_id, medication_id, date, scheduled_time, status,
	taken_at, was_late, stock_decremented, created_at, updated_at`

func scanLog(row pgx.Row) (*LogEntry, error) {
	var e LogEntry
	err := row.Scan(&e.ID, &e.PatientID, &e.MedicationID, &e.Date,
		&e.ScheduledTime, &e.Status, &e.TakenAt, &e.WasLate,
		&e.StockDecremented, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *repoPG) Upsert(ctx context.Context, e *LogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO dose_log (id, patient_id, medication_id, date, scheduled_time,
			status, taken_at, was_late, stock_decremented)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (patient_id, medication_id, date, scheduled_time)
		DO UPDATE SET status = EXCLUDED.status,
			taken_at = EXCLUDED.taken_at,
			was_late = EXCLUDED.was_late,
			stock_decremented = EXCLUDED.stock_decremented,
			updated_at = NOW()
		RETURNING id`,
		e.ID, e.PatientID, e.MedicationID, e.Date, e.ScheduledTime,
		e.Status, e.TakenAt, e.WasLate, e.StockDecremented).Scan(&e.ID)
}

func (r *repoPG) Get(ctx context.Context, patientID, medicationID uuid.UUID, date time.Time, slot string) (*LogEntry, error) {
	return scanLog(r.conn(ctx).QueryRow(ctx, `
		SELECT `+logCols+` FROM dose_log
		WHERE patient_id = $1 AND medication_id = $2 AND date = $3 AND scheduled_time = $4`,
		patientID, medicationID, date, slot))
}

func (r *repoPG) Delete(ctx context.Context, patientID, medicationID uuid.UUID, date time.Time, slot string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM dose_log
		WHERE patient_id = $1 AND medication_id = $2 AND date = $3 AND scheduled_time = $4`,
		patientID, medicationID, date, slot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]*LogEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+logCols+` FROM dose_log
		WHERE patient_id = $1 AND date = $2
		ORDER BY scheduled_time ASC`,
		patientID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *repoPG) ListRange(ctx context.Context, patientID uuid.UUID, start, end time.Time, medicationID *uuid.UUID) ([]*LogEntry, error) {
	query := `SELECT ` + logCols + ` FROM dose_log
		WHERE patient_id = $1 AND date >= $2 AND date <= $3`
	args := []interface{}{patientID, start, end}
	if medicationID != nil {
		query += ` AND medication_id = $4`
		args = append(args, *medicationID)
	}
	query += ` ORDER BY date DESC, scheduled_time ASC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*LogEntry, error) {
	var items []*LogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
