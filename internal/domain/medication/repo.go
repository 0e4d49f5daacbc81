package medication

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a medication does not exist or belongs to
// another patient.
var ErrNotFound = errors.New("medication not found")

type Repository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, patientID, id uuid.UUID) (*Medication, error)
	Update(ctx context.Context, m *Medication) error
	Delete(ctx context.Context, patientID, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool, limit, offset int) ([]*Medication, int, error)
	UpdateSchedule(ctx context.Context, patientID, id uuid.UUID, times []string, isCustom bool) error

	// Stock mutations run inside a transaction holding a row lock so
	// concurrent marks against the same medication serialize.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*Medication, error)
	Refill(ctx context.Context, id uuid.UUID, amount int, newTotal *int) (*Medication, error)
	SetCurrentStock(ctx context.Context, id uuid.UUID, current int) (*Medication, error)
}
