package dose

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/api/internal/domain/medication"
	"github.com/healthmate/api/internal/platform/apperr"
	"github.com/healthmate/api/internal/platform/metrics"
)

// MedicationDirectory is the slice of the medication service the dose
// scheduler depends on.
type MedicationDirectory interface {
	Get(ctx context.Context, patientID, id uuid.UUID) (*medication.Medication, error)
	ListActive(ctx context.Context, patientID uuid.UUID) ([]*medication.Medication, error)
	DecrementForDose(ctx context.Context, patientID, id uuid.UUID) (bool, error)
	RestoreForDose(ctx context.Context, patientID, id uuid.UUID) error
}

type Service struct {
	repo Repository
	meds MedicationDirectory
	win  Windows
	now  func() time.Time
}

func NewService(repo Repository, meds MedicationDirectory, win Windows) *Service {
	return &Service{repo: repo, meds: meds, win: win, now: time.Now}
}

// Windows exposes the configured slot thresholds.
func (s *Service) Windows() Windows { return s.win }

// day truncates a time to its calendar date in its own location.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TodayDoses builds the live today view: every slot of every active
// medication, classified against the clock and the dose log. Slots whose
// grace window has elapsed without a mark are persisted as missed, which is
// an idempotent upsert so concurrent readers converge on the same row.
func (s *Service) TodayDoses(ctx context.Context, patientID uuid.UUID) (*TodayView, error) {
	now := s.now()
	today := day(now)

	meds, err := s.meds.ListActive(ctx, patientID)
	if err != nil {
		return nil, err
	}

	logs, err := s.repo.ListByDate(ctx, patientID, today)
	if err != nil {
		return nil, err
	}
	logByKey := make(map[string]*LogEntry, len(logs))
	for _, e := range logs {
		logByKey[e.MedicationID.String()+"|"+e.ScheduledTime] = e
	}

	view := &TodayView{Date: today.Format("2006-01-02")}
	for _, med := range meds {
		if !med.ActiveOn(today) {
			continue
		}
		for _, slot := range med.ScheduleTimes {
			item, err := s.buildSlot(ctx, med, slot, today, now, logByKey[med.ID.String()+"|"+slot])
			if err != nil {
				return nil, err
			}
			view.Doses = append(view.Doses, *item)

			view.Summary.Total++
			switch item.Status {
			case StatusTaken, StatusLate:
				view.Summary.Taken++
			case StatusMissed, StatusSkipped:
				view.Summary.Missed++
			default:
				view.Summary.Pending++
			}
		}
	}

	sort.Slice(view.Doses, func(i, j int) bool {
		if view.Doses[i].ScheduledTime != view.Doses[j].ScheduledTime {
			return view.Doses[i].ScheduledTime < view.Doses[j].ScheduledTime
		}
		return view.Doses[i].MedicationName < view.Doses[j].MedicationName
	})

	if view.Summary.Total > 0 {
		view.Summary.AdherenceRate = round1(float64(view.Summary.Taken) / float64(view.Summary.Total) * 100)
	} else {
		view.Summary.AdherenceRate = 100
	}
	return view, nil
}

func (s *Service) buildSlot(ctx context.Context, med *medication.Medication, slot string, today, now time.Time, entry *LogEntry) (*TodayDose, error) {
	takenAt := ""
	if entry != nil {
		takenAt = entry.TakenAt
	}

	var status string
	var err error
	if entry != nil && entry.Status == StatusSkipped {
		status = StatusSkipped
	} else {
		status, _, err = s.win.Classify(today, slot, now, takenAt)
		if err != nil {
			return nil, apperr.InvalidInput(err.Error())
		}
	}

	// Lazily persist slots that slipped past the grace window.
	if status == StatusMissed && entry == nil {
		entry = &LogEntry{
			PatientID:     med.PatientID,
			MedicationID:  med.ID,
			Date:          today,
			ScheduledTime: slot,
			Status:        StatusMissed,
		}
		if err := s.repo.Upsert(ctx, entry); err != nil {
			return nil, err
		}
	}

	scheduled, err := ParseSlot(today, slot)
	if err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}
	until := int(scheduled.Sub(now).Minutes())

	item := &TodayDose{
		MedicationID:   med.ID,
		MedicationName: med.Name,
		ScheduledTime:  slot,
		Status:         status,
		TakenAt:        takenAt,
		CanTake:        status == StatusAvailable,
	}
	if until > 0 {
		item.TimeUntil = &until
	} else if until < 0 {
		since := -until
		item.TimeSince = &since
	}
	if entry != nil {
		id := entry.ID
		item.DoseLogID = &id
	}
	return item, nil
}

// MarkResult reports the outcome of a mark operation.
type MarkResult struct {
	LogID           uuid.UUID `json:"log_id"`
	Status          string    `json:"status"`
	TakenAt         string    `json:"taken_at,omitempty"`
	TimeDiffMinutes int       `json:"time_diff_minutes"`
}

// MarkTaken records a dose as taken for today's slot. The slot must have
// opened: marking is rejected while it is still pending, so a dose cannot be
// taken hours ahead of schedule. Stock is decremented exactly once per
// marked slot; re-marking an already taken slot is a conflict.
func (s *Service) MarkTaken(ctx context.Context, patientID, medicationID uuid.UUID, slot, takenAt string) (*MarkResult, error) {
	now := s.now()
	today := day(now)

	if _, err := ParseSlot(today, slot); err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}
	if takenAt == "" {
		takenAt = now.Format("15:04")
	}

	med, err := s.meds.Get(ctx, patientID, medicationID)
	if err != nil {
		return nil, err
	}

	slotState, _, err := s.win.Classify(today, slot, now, "")
	if err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}
	if slotState == StatusPending {
		return nil, apperr.Conflict("dose is not yet available")
	}

	status, diff, err := s.win.Classify(today, slot, now, takenAt)
	if err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}

	existing, err := s.repo.Get(ctx, patientID, medicationID, today, slot)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.TakenPositive() {
		return nil, apperr.Conflict("dose already marked taken")
	}

	entry := &LogEntry{
		PatientID:     patientID,
		MedicationID:  med.ID,
		Date:          today,
		ScheduledTime: slot,
		Status:        status,
		TakenAt:       takenAt,
		WasLate:       status == StatusLate,
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.StockDecremented = existing.StockDecremented
	}

	if !entry.StockDecremented {
		decremented, err := s.meds.DecrementForDose(ctx, patientID, med.ID)
		if err != nil {
			return nil, err
		}
		entry.StockDecremented = decremented
	}

	if err := s.repo.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	metrics.RecordDoseMarked(status)

	return &MarkResult{
		LogID:           entry.ID,
		Status:          status,
		TakenAt:         takenAt,
		TimeDiffMinutes: diff,
	}, nil
}

// Unmark deletes today's log row for the slot and restores stock if the
// mark had consumed it. Mark followed by unmark leaves both the log and the
// stock level unchanged.
func (s *Service) Unmark(ctx context.Context, patientID, medicationID uuid.UUID, slot string) error {
	today := day(s.now())

	entry, err := s.repo.Get(ctx, patientID, medicationID, today, slot)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("dose log entry", slot)
		}
		return err
	}

	if entry.StockDecremented {
		if err := s.meds.RestoreForDose(ctx, patientID, medicationID); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, patientID, medicationID, today, slot); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("dose log entry", slot)
		}
		return err
	}
	metrics.RecordDoseUnmarked()
	return nil
}

// MarkSkipped records a deliberate skip. Skips never consume stock and
// count against the streak like a miss.
func (s *Service) MarkSkipped(ctx context.Context, patientID, medicationID uuid.UUID, slot string) (*MarkResult, error) {
	now := s.now()
	today := day(now)

	if _, err := ParseSlot(today, slot); err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}
	if _, err := s.meds.Get(ctx, patientID, medicationID); err != nil {
		return nil, err
	}

	existing, err := s.repo.Get(ctx, patientID, medicationID, today, slot)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.TakenPositive() {
		return nil, apperr.Conflict("dose already marked taken")
	}

	entry := &LogEntry{
		PatientID:     patientID,
		MedicationID:  medicationID,
		Date:          today,
		ScheduledTime: slot,
		Status:        StatusSkipped,
	}
	if existing != nil {
		entry.ID = existing.ID
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	metrics.RecordDoseMarked(StatusSkipped)
	return &MarkResult{LogID: entry.ID, Status: StatusSkipped}, nil
}

// HistoryEntry is a log row joined with its medication name.
type HistoryEntry struct {
	*LogEntry
	MedicationName string `json:"medication_name"`
}

// HistoryView is the dose history response.
type HistoryView struct {
	StartDate     string         `json:"start_date"`
	EndDate       string         `json:"end_date"`
	Logs          []HistoryEntry `json:"logs"`
	AdherenceRate float64        `json:"adherence_rate"`
}

// History lists logged doses in a date range, newest day first.
func (s *Service) History(ctx context.Context, patientID uuid.UUID, start, end time.Time, medicationID *uuid.UUID) (*HistoryView, error) {
	if end.Before(start) {
		return nil, apperr.InvalidInput("end_date cannot be before start_date")
	}

	entries, err := s.repo.ListRange(ctx, patientID, day(start), day(end), medicationID)
	if err != nil {
		return nil, err
	}

	names := make(map[uuid.UUID]string)
	view := &HistoryView{
		StartDate: day(start).Format("2006-01-02"),
		EndDate:   day(end).Format("2006-01-02"),
	}

	taken := 0
	for _, e := range entries {
		name, ok := names[e.MedicationID]
		if !ok {
			if med, err := s.meds.Get(ctx, patientID, e.MedicationID); err == nil {
				name = med.Name
			}
			names[e.MedicationID] = name
		}
		view.Logs = append(view.Logs, HistoryEntry{LogEntry: e, MedicationName: name})
		if e.TakenPositive() {
			taken++
		}
	}

	if len(entries) > 0 {
		view.AdherenceRate = round1(float64(taken) / float64(len(entries)) * 100)
	} else {
		view.AdherenceRate = 100
	}
	return view, nil
}

// ListRange exposes raw log entries for the adherence aggregator.
func (s *Service) ListRange(ctx context.Context, patientID uuid.UUID, start, end time.Time, medicationID *uuid.UUID) ([]*LogEntry, error) {
	return s.repo.ListRange(ctx, patientID, day(start), day(end), medicationID)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
