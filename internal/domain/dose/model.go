package dose

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dose statuses. taken and late both mean the dose was swallowed; late
// records that it happened outside the on-time window.
const (
	StatusPending   = "pending"
	StatusAvailable = "available"
	StatusTaken     = "taken"
	StatusLate      = "late"
	StatusMissed    = "missed"
	StatusSkipped   = "skipped"
)

// Windows holds the slot timing thresholds. A dose opens EarlyWindow before
// its slot, counts as on-time until OnTime after it, and is missed once
// Grace has elapsed.
type Windows struct {
	Early  time.Duration
	OnTime time.Duration
	Grace  time.Duration
}

// DefaultWindows returns the standard 30/30/120 minute thresholds.
func DefaultWindows() Windows {
	return Windows{
		Early:  30 * time.Minute,
		OnTime: 30 * time.Minute,
		Grace:  120 * time.Minute,
	}
}

// ParseSlot parses an "HH:MM" slot string onto the given day.
func ParseSlot(day time.Time, slot string) (time.Time, error) {
	t, err := time.Parse("15:04", slot)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot time %q, expected HH:MM", slot)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// Classify computes the status of a slot. takenAt is the "HH:MM" take time
// or empty when the dose has not been taken. The returned minutes are the
// signed distance from the slot (take time for taken doses, now otherwise).
func (w Windows) Classify(day time.Time, slot string, now time.Time, takenAt string) (string, int, error) {
	scheduled, err := ParseSlot(day, slot)
	if err != nil {
		return "", 0, err
	}

	if takenAt != "" {
		taken, err := ParseSlot(day, takenAt)
		if err != nil {
			return "", 0, err
		}
		diff := int(taken.Sub(scheduled).Minutes())
		if diff >= -int(w.Early.Minutes()) && diff <= int(w.OnTime.Minutes()) {
			return StatusTaken, diff, nil
		}
		return StatusLate, diff, nil
	}

	diff := int(now.Sub(scheduled).Minutes())
	switch {
	case diff < -int(w.Early.Minutes()):
		return StatusPending, diff, nil
	case diff <= int(w.Grace.Minutes()):
		return StatusAvailable, diff, nil
	default:
		return StatusMissed, diff, nil
	}
}

// LogEntry is one row of the dose log: a single (medication, day, slot)
// outcome. StockDecremented records whether marking this dose consumed
// stock, so an unmark reverses it exactly once.
type LogEntry struct {
	ID               uuid.UUID `json:"id"`
	PatientID        uuid.UUID `json:"patient_id"`
	MedicationID     uuid.UUID `json:"medication_id"`
	Date             time.Time `json:"date"`
	ScheduledTime    string    `json:"scheduled_time"`
	Status           string    `json:"status"`
	TakenAt          string    `json:"taken_at,omitempty"`
	WasLate          bool      `json:"was_late"`
	StockDecremented bool      `json:"stock_decremented"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TakenPositive reports whether the entry counts toward adherence.
func (e *LogEntry) TakenPositive() bool {
	return e.Status == StatusTaken || e.Status == StatusLate
}

// TodayDose is one slot in the today view.
type TodayDose struct {
	MedicationID   uuid.UUID  `json:"medication_id"`
	MedicationName string     `json:"medication_name"`
	ScheduledTime  string     `json:"scheduled_time"`
	Status         string     `json:"status"`
	TakenAt        string     `json:"taken_at,omitempty"`
	TimeUntil      *int       `json:"time_until,omitempty"`
	TimeSince      *int       `json:"time_since,omitempty"`
	CanTake        bool       `json:"can_take"`
	DoseLogID      *uuid.UUID `json:"dose_log_id,omitempty"`
}

// TodaySummary aggregates the day's slots.
type TodaySummary struct {
	Total         int     `json:"total"`
	Taken         int     `json:"taken"`
	Missed        int     `json:"missed"`
	Pending       int     `json:"pending"`
	AdherenceRate float64 `json:"adherence_rate"`
}

// TodayView is the full today response.
type TodayView struct {
	Date    string       `json:"date"`
	Doses   []TodayDose  `json:"doses"`
	Summary TodaySummary `json:"summary"`
}
