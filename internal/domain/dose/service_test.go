package dose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/api/internal/domain/medication"
	"github.com/healthmate/api/internal/platform/apperr"
)

type mockRepo struct{ store map[string]*LogEntry }

func newMockRepo() *mockRepo { return &mockRepo{store: make(map[string]*LogEntry)} }

func key(pid, mid uuid.UUID, date time.Time, slot string) string {
	return pid.String() + "|" + mid.String() + "|" + date.Format("2006-01-02") + "|" + slot
}

func (m *mockRepo) Upsert(_ context.Context, e *LogEntry) error {
	k := key(e.PatientID, e.MedicationID, e.Date, e.ScheduledTime)
	if old, ok := m.store[k]; ok {
		e.ID = old.ID
	} else if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e; m.store[k] = &cp; return nil
}
func (m *mockRepo) Get(_ context.Context, pid, mid uuid.UUID, date time.Time, slot string) (*LogEntry, error) {
	e, ok := m.store[key(pid, mid, date, slot)]; if !ok { return nil, ErrNotFound }; cp := *e; return &cp, nil
}
func (m *mockRepo) Delete(_ context.Context, pid, mid uuid.UUID, date time.Time, slot string) error {
	k := key(pid, mid, date, slot); if _, ok := m.store[k]; !ok { return ErrNotFound }; delete(m.store, k); return nil
}
func (m *mockRepo) ListByDate(_ context.Context, pid uuid.UUID, date time.Time) ([]*LogEntry, error) {
	var r []*LogEntry
	for _, e := range m.store {
		if e.PatientID == pid && e.Date.Equal(date) { cp := *e; r = append(r, &cp) }
	}
	return r, nil
}
func (m *mockRepo) ListRange(_ context.Context, pid uuid.UUID, start, end time.Time, mid *uuid.UUID) ([]*LogEntry, error) {
	var r []*LogEntry
	for _, e := range m.store {
		if e.PatientID != pid || e.Date.Before(start) || e.Date.After(end) { continue }
		if mid != nil && e.MedicationID != *mid { continue }
		cp := *e; r = append(r, &cp)
	}
	return r, nil
}

type mockMeds struct{ store map[uuid.UUID]*medication.Medication }

func newMockMeds() *mockMeds { return &mockMeds{store: make(map[uuid.UUID]*medication.Medication)} }

func (m *mockMeds) add(med *medication.Medication) *medication.Medication {
	if med.ID == uuid.Nil { med.ID = uuid.New() }
	med.IsActive = true
	m.store[med.ID] = med
	return med
}
func (m *mockMeds) Get(_ context.Context, pid, id uuid.UUID) (*medication.Medication, error) {
	med, ok := m.store[id]
	if !ok || med.PatientID != pid {
		return nil, apperr.NotFound("medication", id.String())
	}
	cp := *med
	return &cp, nil
}
func (m *mockMeds) ListActive(_ context.Context, pid uuid.UUID) ([]*medication.Medication, error) {
	var r []*medication.Medication
	for _, med := range m.store {
		if med.PatientID == pid && med.IsActive { cp := *med; r = append(r, &cp) }
	}
	return r, nil
}
func (m *mockMeds) DecrementForDose(_ context.Context, pid, id uuid.UUID) (bool, error) {
	med, ok := m.store[id]
	if !ok {
		return false, apperr.NotFound("medication", id.String())
	}
	if med.CurrentStock == nil {
		return false, nil
	}
	cur := *med.CurrentStock - med.DosePerIntake
	if cur < 0 {
		cur = 0
	}
	med.CurrentStock = &cur
	return true, nil
}
func (m *mockMeds) RestoreForDose(_ context.Context, pid, id uuid.UUID) error {
	med, ok := m.store[id]
	if !ok {
		return apperr.NotFound("medication", id.String())
	}
	if med.CurrentStock == nil {
		return nil
	}
	cur := *med.CurrentStock + med.DosePerIntake
	if med.TotalStock != nil && cur > *med.TotalStock {
		cur = *med.TotalStock
	}
	med.CurrentStock = &cur
	return nil
}

func intPtr(v int) *int { return &v }

func newTestService(now time.Time) (*Service, *mockRepo, *mockMeds) {
	repo := newMockRepo()
	meds := newMockMeds()
	svc := NewService(repo, meds, DefaultWindows())
	svc.now = func() time.Time { return now }
	return svc, repo, meds
}

func TestTodayDoses_ClassifiesAndCounts(t *testing.T) {
	svc, repo, meds := newTestService(at(12, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Metformin",
		Frequency: 3, DosePerIntake: 1, ScheduleTimes: []string{"08:00", "11:30", "20:00"}})

	view, err := svc.TodayDoses(context.Background(), pid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if view.Summary.Total != 3 {
		t.Fatalf("expected 3 slots, got %d", view.Summary.Total)
	}

	byStatus := map[string]string{}
	for _, d := range view.Doses {
		byStatus[d.ScheduledTime] = d.Status
	}
	if byStatus["08:00"] != StatusMissed {
		t.Errorf("08:00 at noon should be missed, got %s", byStatus["08:00"])
	}
	if byStatus["11:30"] != StatusAvailable {
		t.Errorf("11:30 at noon should be available, got %s", byStatus["11:30"])
	}
	if byStatus["20:00"] != StatusPending {
		t.Errorf("20:00 at noon should be pending, got %s", byStatus["20:00"])
	}

	if view.Summary.Missed != 1 || view.Summary.Pending != 2 {
		t.Errorf("unexpected summary: %+v", view.Summary)
	}

	// The missed slot was lazily persisted
	e, err := repo.Get(context.Background(), pid, med.ID, day(at(12, 0)), "08:00")
	if err != nil {
		t.Fatalf("expected persisted missed entry: %v", err)
	}
	if e.Status != StatusMissed {
		t.Errorf("expected persisted status missed, got %s", e.Status)
	}
}

func TestTodayDoses_CanTakeOnlyWhenAvailable(t *testing.T) {
	svc, _, meds := newTestService(at(12, 0))
	pid := uuid.New()
	meds.add(&medication.Medication{PatientID: pid, Name: "Metformin",
		Frequency: 3, DosePerIntake: 1, ScheduleTimes: []string{"08:00", "11:30", "20:00"}})

	view, err := svc.TodayDoses(context.Background(), pid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range view.Doses {
		want := d.Status == StatusAvailable
		if d.CanTake != want {
			t.Errorf("slot %s (%s): can_take = %v", d.ScheduledTime, d.Status, d.CanTake)
		}
	}
}

func TestTodayDoses_IdempotentMissedWriteback(t *testing.T) {
	svc, repo, meds := newTestService(at(12, 0))
	pid := uuid.New()
	meds.add(&medication.Medication{PatientID: pid, Name: "Metformin",
		Frequency: 1, DosePerIntake: 1, ScheduleTimes: []string{"08:00"}})

	if _, err := svc.TodayDoses(context.Background(), pid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.TodayDoses(context.Background(), pid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.store) != 1 {
		t.Errorf("expected a single persisted missed row, got %d", len(repo.store))
	}
}

func TestMarkTaken_DecrementsStockOnce(t *testing.T) {
	svc, repo, meds := newTestService(at(8, 10))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Aspirin",
		Frequency: 1, DosePerIntake: 1, ScheduleTimes: []string{"08:00"},
		TotalStock: intPtr(10), CurrentStock: intPtr(10)})

	result, err := svc.MarkTaken(context.Background(), pid, med.ID, "08:00", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusTaken {
		t.Errorf("expected taken, got %s", result.Status)
	}
	if result.TakenAt != "08:10" {
		t.Errorf("expected taken_at defaulted to 08:10, got %s", result.TakenAt)
	}
	if *meds.store[med.ID].CurrentStock != 9 {
		t.Errorf("expected stock 9, got %d", *meds.store[med.ID].CurrentStock)
	}

	e, err := repo.Get(context.Background(), pid, med.ID, day(at(8, 10)), "08:00")
	if err != nil {
		t.Fatalf("expected persisted entry: %v", err)
	}
	if !e.StockDecremented {
		t.Error("expected stock_decremented flag")
	}

	// Re-marking a taken slot is a conflict and must not consume again
	_, err = svc.MarkTaken(context.Background(), pid, med.ID, "08:00", "")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if *meds.store[med.ID].CurrentStock != 9 {
		t.Errorf("stock consumed twice: %d", *meds.store[med.ID].CurrentStock)
	}
}

func TestMarkTaken_PendingSlotRejected(t *testing.T) {
	svc, repo, meds := newTestService(at(12, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Aspirin",
		Frequency: 1, DosePerIntake: 1, ScheduleTimes: []string{"20:00"},
		TotalStock: intPtr(10), CurrentStock: intPtr(10)})

	// the evening slot has not opened at noon
	_, err := svc.MarkTaken(context.Background(), pid, med.ID, "20:00", "")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if *meds.store[med.ID].CurrentStock != 10 {
		t.Errorf("rejected mark consumed stock: %d", *meds.store[med.ID].CurrentStock)
	}
	if len(repo.store) != 0 {
		t.Errorf("rejected mark persisted %d log rows", len(repo.store))
	}

	// the slot opens 30 minutes early
	svc.now = func() time.Time { return at(19, 30) }
	result, err := svc.MarkTaken(context.Background(), pid, med.ID, "20:00", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusTaken {
		t.Errorf("expected taken at the window edge, got %s", result.Status)
	}
}

func TestMarkTaken_LateOutsideWindow(t *testing.T) {
	svc, _, meds := newTestService(at(10, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Aspirin",
		Frequency: 1, DosePerIntake: 1, ScheduleTimes: []string{"08:00"}})

	result, err := svc.MarkTaken(context.Background(), pid, med.ID, "08:00", "09:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusLate {
		t.Errorf("expected late, got %s", result.Status)
	}
	if result.TimeDiffMinutes != 90 {
		t.Errorf("expected diff 90, got %d", result.TimeDiffMinutes)
	}
}

func TestMarkThenUnmark_RoundTrip(t *testing.T) {
	svc, repo, meds := newTestService(at(8, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Aspirin",
		Frequency: 1, DosePerIntake: 2, ScheduleTimes: []string{"08:00"},
		TotalStock: intPtr(20), CurrentStock: intPtr(20)})

	if _, err := svc.MarkTaken(context.Background(), pid, med.ID, "08:00", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *meds.store[med.ID].CurrentStock != 18 {
		t.Fatalf("expected stock 18 after mark, got %d", *meds.store[med.ID].CurrentStock)
	}

	if err := svc.Unmark(context.Background(), pid, med.ID, "08:00"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *meds.store[med.ID].CurrentStock != 20 {
		t.Errorf("expected stock restored to 20, got %d", *meds.store[med.ID].CurrentStock)
	}
	if len(repo.store) != 0 {
		t.Errorf("expected log row deleted, %d rows remain", len(repo.store))
	}
}

func TestUnmark_NoStockRestoreWhenNotDecremented(t *testing.T) {
	svc, _, meds := newTestService(at(8, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Vitamin D",
		Frequency: 1, DosePerIntake: 1, ScheduleTimes: []string{"08:00"}})

	if _, err := svc.MarkTaken(context.Background(), pid, med.ID, "08:00", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Unmark(context.Background(), pid, med.ID, "08:00"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meds.store[med.ID].CurrentStock != nil {
		t.Error("untracked stock must stay untracked")
	}
}

func TestUnmark_MissingEntry(t *testing.T) {
	svc, _, meds := newTestService(at(8, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Aspirin",
		Frequency: 1, DosePerIntake: 1, ScheduleTimes: []string{"08:00"}})

	err := svc.Unmark(context.Background(), pid, med.ID, "08:00")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestMarkTaken_UnknownMedication(t *testing.T) {
	svc, _, _ := newTestService(at(8, 0))

	_, err := svc.MarkTaken(context.Background(), uuid.New(), uuid.New(), "08:00", "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestMarkSkipped(t *testing.T) {
	svc, repo, meds := newTestService(at(8, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Aspirin",
		Frequency: 1, DosePerIntake: 1, ScheduleTimes: []string{"08:00"},
		TotalStock: intPtr(10), CurrentStock: intPtr(10)})

	result, err := svc.MarkSkipped(context.Background(), pid, med.ID, "08:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSkipped {
		t.Errorf("expected skipped, got %s", result.Status)
	}
	if *meds.store[med.ID].CurrentStock != 10 {
		t.Error("skipping must not consume stock")
	}

	// A skipped slot can still be taken afterwards
	if _, err := svc.MarkTaken(context.Background(), pid, med.ID, "08:00", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, _ := repo.Get(context.Background(), pid, med.ID, day(at(8, 0)), "08:00")
	if e.Status != StatusTaken {
		t.Errorf("expected taken after skip, got %s", e.Status)
	}
}

func TestHistory_CountsLateAsTaken(t *testing.T) {
	svc, repo, meds := newTestService(at(12, 0))
	pid := uuid.New()
	med := meds.add(&medication.Medication{PatientID: pid, Name: "Aspirin",
		Frequency: 2, DosePerIntake: 1, ScheduleTimes: []string{"08:00", "20:00"}})

	d := day(at(12, 0))
	entries := []*LogEntry{
		{PatientID: pid, MedicationID: med.ID, Date: d.AddDate(0, 0, -1), ScheduledTime: "08:00", Status: StatusTaken, TakenAt: "08:05"},
		{PatientID: pid, MedicationID: med.ID, Date: d.AddDate(0, 0, -1), ScheduledTime: "20:00", Status: StatusLate, TakenAt: "22:00", WasLate: true},
		{PatientID: pid, MedicationID: med.ID, Date: d.AddDate(0, 0, -2), ScheduledTime: "08:00", Status: StatusMissed},
		{PatientID: pid, MedicationID: med.ID, Date: d.AddDate(0, 0, -2), ScheduledTime: "20:00", Status: StatusTaken, TakenAt: "20:10"},
	}
	for _, e := range entries {
		if err := repo.Upsert(context.Background(), e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	view, err := svc.History(context.Background(), pid, d.AddDate(0, 0, -7), d, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Logs) != 4 {
		t.Fatalf("expected 4 logs, got %d", len(view.Logs))
	}
	if view.AdherenceRate != 75.0 {
		t.Errorf("expected 75.0 adherence (late counts as taken), got %v", view.AdherenceRate)
	}
	if view.Logs[0].MedicationName != "Aspirin" {
		t.Errorf("expected joined medication name, got %q", view.Logs[0].MedicationName)
	}
}

func TestHistory_InvalidRange(t *testing.T) {
	svc, _, _ := newTestService(at(12, 0))
	d := day(at(12, 0))

	_, err := svc.History(context.Background(), uuid.New(), d, d.AddDate(0, 0, -1), nil)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("expected invalid-input, got %v", err)
	}
}
