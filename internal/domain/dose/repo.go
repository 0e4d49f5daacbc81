package dose

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no log row exists for a slot.
var ErrNotFound = errors.New("dose log entry not found")

type Repository interface {
	// Upsert inserts or updates the single row keyed by
	// (patient, medication, date, slot).
	Upsert(ctx context.Context, e *LogEntry) error
	Get(ctx context.Context, patientID, medicationID uuid.UUID, date time.Time, slot string) (*LogEntry, error)
	Delete(ctx context.Context, patientID, medicationID uuid.UUID, date time.Time, slot string) error
	ListByDate(ctx context.Context, patientID uuid.UUID, date time.Time) ([]*LogEntry, error)
	// ListRange returns entries ordered by date descending, slot ascending.
	// medicationID filters to one medication when non-nil.
	ListRange(ctx context.Context, patientID uuid.UUID, start, end time.Time, medicationID *uuid.UUID) ([]*LogEntry, error)
}
