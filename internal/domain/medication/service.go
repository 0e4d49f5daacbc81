package medication

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/api/internal/platform/apperr"
	"github.com/healthmate/api/internal/platform/metrics"
)

type Service struct {
	repo Repository

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, locks: make(map[uuid.UUID]*sync.Mutex)}
}

// lock serializes stock mutations per medication within this process. The
// repository additionally holds a row lock so concurrent instances stay
// consistent.
func (s *Service) lock(id uuid.UUID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func mapErr(err error, id uuid.UUID) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("medication", id.String())
	}
	return err
}

func (s *Service) Create(ctx context.Context, m *Medication) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Frequency == 0 {
		m.Frequency = 1
	}
	if m.DosePerIntake == 0 {
		m.DosePerIntake = 1
	}
	m.IsActive = true

	if len(m.ScheduleTimes) == 0 {
		m.ScheduleTimes = GenerateScheduleTimes(m.Frequency, m.Timing)
		m.IsCustom = false
	} else {
		m.IsCustom = true
	}

	// Derive the end date from a parseable duration when none was given.
	if m.EndDate == nil && m.StartDate != nil {
		if days, ok := ParseDurationDays(m.Duration); ok {
			end := m.StartDate.AddDate(0, 0, days)
			m.EndDate = &end
		}
	}

	if err := m.Validate(); err != nil {
		return apperr.InvalidInput(err.Error())
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return err
	}
	metrics.RecordMedicationCreated()
	return nil
}

func (s *Service) Get(ctx context.Context, patientID, id uuid.UUID) (*Medication, error) {
	m, err := s.repo.GetByID(ctx, patientID, id)
	if err != nil {
		return nil, mapErr(err, id)
	}
	return m, nil
}

func (s *Service) Update(ctx context.Context, m *Medication) error {
	existing, err := s.repo.GetByID(ctx, m.PatientID, m.ID)
	if err != nil {
		return mapErr(err, m.ID)
	}

	m.CreatedAt = existing.CreatedAt
	if len(m.ScheduleTimes) == 0 {
		m.ScheduleTimes = GenerateScheduleTimes(m.Frequency, m.Timing)
		m.IsCustom = false
	}
	if err := m.Validate(); err != nil {
		return apperr.InvalidInput(err.Error())
	}
	return mapErr(s.repo.Update(ctx, m), m.ID)
}

func (s *Service) Delete(ctx context.Context, patientID, id uuid.UUID) error {
	return mapErr(s.repo.Delete(ctx, patientID, id), id)
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID, activeOnly bool, limit, offset int) ([]*Medication, int, error) {
	return s.repo.ListByPatient(ctx, patientID, activeOnly, limit, offset)
}

// ListActive returns every active medication for the patient without paging.
// The dose scheduler and adherence aggregator read through this.
func (s *Service) ListActive(ctx context.Context, patientID uuid.UUID) ([]*Medication, error) {
	items, _, err := s.repo.ListByPatient(ctx, patientID, true, 1000, 0)
	return items, err
}

// Schedule is the schedule view of a medication.
type Schedule struct {
	MedicationID  uuid.UUID `json:"medication_id"`
	ScheduleTimes []string  `json:"schedule_times"`
	IsCustom      bool      `json:"is_custom"`
	Timing        string    `json:"timing,omitempty"`
	Frequency     int       `json:"frequency"`
}

func (s *Service) GetSchedule(ctx context.Context, patientID, id uuid.UUID) (*Schedule, error) {
	m, err := s.Get(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	return &Schedule{
		MedicationID:  m.ID,
		ScheduleTimes: m.ScheduleTimes,
		IsCustom:      m.IsCustom,
		Timing:        m.Timing,
		Frequency:     m.Frequency,
	}, nil
}

// UpdateSchedule replaces the slot times. An empty list reverts to the
// generated default for the medication's frequency and timing.
func (s *Service) UpdateSchedule(ctx context.Context, patientID, id uuid.UUID, times []string) (*Schedule, error) {
	m, err := s.Get(ctx, patientID, id)
	if err != nil {
		return nil, err
	}

	isCustom := len(times) > 0
	if !isCustom {
		times = GenerateScheduleTimes(m.Frequency, m.Timing)
	}
	for _, ts := range times {
		if _, err := time.Parse("15:04", ts); err != nil {
			return nil, apperr.InvalidInputf("invalid schedule time %q, expected HH:MM", ts)
		}
	}

	if err := s.repo.UpdateSchedule(ctx, patientID, id, times, isCustom); err != nil {
		return nil, mapErr(err, id)
	}
	return &Schedule{
		MedicationID:  id,
		ScheduleTimes: times,
		IsCustom:      isCustom,
		Timing:        m.Timing,
		Frequency:     m.Frequency,
	}, nil
}

// Refill adds stock, optionally raising the total. The current level never
// exceeds the total.
func (s *Service) Refill(ctx context.Context, patientID, id uuid.UUID, amount int, newTotal *int) (*Medication, error) {
	if amount <= 0 {
		return nil, apperr.InvalidInput("refill_amount must be positive")
	}
	if newTotal != nil && *newTotal < 0 {
		return nil, apperr.InvalidInput("total_stock cannot be negative")
	}

	if _, err := s.Get(ctx, patientID, id); err != nil {
		return nil, err
	}

	defer s.lock(id)()
	m, err := s.repo.Refill(ctx, id, amount, newTotal)
	if err != nil {
		return nil, mapErr(err, id)
	}
	metrics.RecordStockRefill()
	return m, nil
}

// SetStock sets the current stock level directly, for corrections after a
// manual count.
func (s *Service) SetStock(ctx context.Context, patientID, id uuid.UUID, current int) (*Medication, error) {
	if current < 0 {
		return nil, apperr.InvalidInput("current_stock cannot be negative")
	}

	m, err := s.Get(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	if m.TotalStock != nil && current > *m.TotalStock {
		return nil, apperr.InvalidInput("current_stock cannot exceed total_stock")
	}

	defer s.lock(id)()
	out, err := s.repo.SetCurrentStock(ctx, id, current)
	return out, mapErr(err, id)
}

// LowStock lists active medications whose supply band is out, critical or
// low.
func (s *Service) LowStock(ctx context.Context, patientID uuid.UUID) ([]*Medication, error) {
	items, err := s.ListActive(ctx, patientID)
	if err != nil {
		return nil, err
	}
	var low []*Medication
	for _, m := range items {
		switch m.StockStatus() {
		case StockOut, StockCritical, StockLow:
			low = append(low, m)
		}
	}
	return low, nil
}

// DecrementForDose consumes one intake's worth of stock when a dose is
// marked taken. Returns whether stock was actually decremented so the dose
// log can reverse it exactly once.
func (s *Service) DecrementForDose(ctx context.Context, patientID, id uuid.UUID) (bool, error) {
	m, err := s.Get(ctx, patientID, id)
	if err != nil {
		return false, err
	}
	if m.CurrentStock == nil {
		return false, nil
	}

	defer s.lock(id)()
	if _, err := s.repo.AdjustStock(ctx, id, -m.DosePerIntake); err != nil {
		return false, mapErr(err, id)
	}
	return true, nil
}

// RestoreForDose returns one intake's worth of stock when a dose mark is
// reverted.
func (s *Service) RestoreForDose(ctx context.Context, patientID, id uuid.UUID) error {
	m, err := s.Get(ctx, patientID, id)
	if err != nil {
		return err
	}
	if m.CurrentStock == nil {
		return nil
	}

	defer s.lock(id)()
	_, err = s.repo.AdjustStock(ctx, id, m.DosePerIntake)
	return mapErr(err, id)
}
