package medication

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stock bands derived from days of supply remaining.
const (
	StockOut      = "out"
	StockCritical = "critical"
	StockLow      = "low"
	StockMedium   = "medium"
	StockHealthy  = "healthy"
	StockUnknown  = "unknown"
)

const (
	MinFrequency = 1
	MaxFrequency = 6
)

// Medication is one entry in a patient's medication registry. Stock fields
// are nil when the patient does not track stock for this medication.
type Medication struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	Name          string     `json:"name"`
	Purpose       string     `json:"purpose,omitempty"`
	Instructions  string     `json:"instructions,omitempty"`
	Timing        string     `json:"timing,omitempty"`
	Frequency     int        `json:"frequency"`
	DosePerIntake int        `json:"dose_per_intake"`
	ScheduleTimes []string   `json:"schedule_times"`
	IsCustom      bool       `json:"is_custom_schedule"`
	Duration      string     `json:"duration,omitempty"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	IsActive      bool       `json:"is_active"`
	TotalStock    *int       `json:"total_stock,omitempty"`
	CurrentStock  *int       `json:"current_stock,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks the registry invariants on create and update.
func (m *Medication) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.Frequency < MinFrequency || m.Frequency > MaxFrequency {
		return fmt.Errorf("frequency must be between %d and %d", MinFrequency, MaxFrequency)
	}
	if m.DosePerIntake < 1 {
		return fmt.Errorf("dose_per_intake must be at least 1")
	}
	if m.CurrentStock != nil && *m.CurrentStock < 0 {
		return fmt.Errorf("current_stock cannot be negative")
	}
	if m.TotalStock != nil && *m.TotalStock < 0 {
		return fmt.Errorf("total_stock cannot be negative")
	}
	if m.CurrentStock != nil && m.TotalStock != nil && *m.CurrentStock > *m.TotalStock {
		return fmt.Errorf("current_stock cannot exceed total_stock")
	}
	if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
		return fmt.Errorf("end_date cannot be before start_date")
	}
	for _, ts := range m.ScheduleTimes {
		if _, err := time.Parse("15:04", ts); err != nil {
			return fmt.Errorf("invalid schedule time %q, expected HH:MM", ts)
		}
	}
	return nil
}

// DailyConsumption returns the number of units consumed per day.
func (m *Medication) DailyConsumption() int {
	daily := m.Frequency * m.DosePerIntake
	if daily <= 0 {
		return 1
	}
	return daily
}

// DaysRemaining returns the whole days of supply left, 0 when stock is not
// tracked or exhausted.
func (m *Medication) DaysRemaining() int {
	if m.CurrentStock == nil || *m.CurrentStock <= 0 {
		return 0
	}
	return *m.CurrentStock / m.DailyConsumption()
}

// StockStatus classifies the remaining supply into an alert band.
func (m *Medication) StockStatus() string {
	if m.CurrentStock == nil {
		return StockUnknown
	}
	if *m.CurrentStock <= 0 {
		return StockOut
	}
	switch days := m.DaysRemaining(); {
	case days <= 3:
		return StockCritical
	case days <= 7:
		return StockLow
	case days <= 14:
		return StockMedium
	default:
		return StockHealthy
	}
}

// StockPercentage returns the rounded percentage of total stock remaining,
// 0 when stock is untracked or total is zero.
func (m *Medication) StockPercentage() int {
	if m.CurrentStock == nil || m.TotalStock == nil || *m.TotalStock <= 0 {
		return 0
	}
	return int(math.Round(float64(*m.CurrentStock) / float64(*m.TotalStock) * 100))
}

// ActiveOn reports whether the medication is expected to be taken on the
// given day. Start and end are compared by calendar date: the database
// returns them at UTC midnight while the caller's clock may run in another
// location.
func (m *Medication) ActiveOn(day time.Time) bool {
	if !m.IsActive {
		return false
	}
	d := dateKey(day)
	if m.StartDate != nil && d < dateKey(*m.StartDate) {
		return false
	}
	if m.EndDate != nil && d > dateKey(*m.EndDate) {
		return false
	}
	return true
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// defaultSchedules maps doses-per-day to the standard slot layout.
var defaultSchedules = map[int][]string{
	1: {"08:00"},
	2: {"08:00", "20:00"},
	3: {"08:00", "14:00", "22:00"},
	4: {"08:00", "12:00", "18:00", "22:00"},
	5: {"06:00", "10:00", "14:00", "18:00", "22:00"},
	6: {"06:00", "10:00", "14:00", "18:00", "22:00", "02:00"},
}

// timingPresets maps timing labels to an anchor time, or a fixed slot list
// for meal-bound labels. "As needed" has no schedule at all.
var timingPresets = map[string]interface{}{
	"Before breakfast": "07:00",
	"After breakfast":  "08:30",
	"Before lunch":     "11:30",
	"After lunch":      "13:00",
	"Before dinner":    "18:30",
	"After dinner":     "19:30",
	"Before bed":       "22:00",
	"With meals":       []string{"08:00", "13:00", "19:00"},
	"Empty stomach":    "06:30",
	"As needed":        nil,
}

// GenerateScheduleTimes produces slot times for the given frequency,
// adjusted by the timing label when it matches a preset.
func GenerateScheduleTimes(frequency int, timing string) []string {
	if frequency < MinFrequency {
		frequency = MinFrequency
	}
	if frequency > MaxFrequency {
		frequency = MaxFrequency
	}

	if preset, ok := timingPresets[timing]; ok {
		switch p := preset.(type) {
		case []string:
			if frequency < len(p) {
				return append([]string(nil), p[:frequency]...)
			}
			return append([]string(nil), p...)
		case string:
			switch {
			case frequency == 1:
				return []string{p}
			case frequency == 2:
				baseHour, _ := strconv.Atoi(strings.SplitN(p, ":", 2)[0])
				return []string{p, fmt.Sprintf("%02d:00", (baseHour+12)%24)}
			default:
				return append([]string(nil), defaultSchedules[frequency]...)
			}
		case nil:
			// "As needed" carries no fixed slots
			return nil
		}
	}

	return append([]string(nil), defaultSchedules[frequency]...)
}

var durationPattern = regexp.MustCompile(`(\d+)\s*(day|days|week|weeks|month|months)`)
var numberPattern = regexp.MustCompile(`\d+`)

// ParseDurationDays converts strings like "7 days", "2 weeks" or "1 month"
// to a day count. A bare number is read as days. Months count as 30 days.
func ParseDurationDays(duration string) (int, bool) {
	duration = strings.ToLower(strings.TrimSpace(duration))
	if duration == "" {
		return 0, false
	}

	if m := durationPattern.FindStringSubmatch(duration); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch {
		case strings.HasPrefix(m[2], "week"):
			return n * 7, true
		case strings.HasPrefix(m[2], "month"):
			return n * 30, true
		default:
			return n, true
		}
	}

	if m := numberPattern.FindString(duration); m != "" {
		n, _ := strconv.Atoi(m)
		return n, true
	}
	return 0, false
}

// DurationProgress reports how far through its course a medication is.
type DurationProgress struct {
	Progress    float64 `json:"progress"`
	DaysElapsed int     `json:"days_elapsed"`
	TotalDays   int     `json:"total_days"`
}

// Progress computes course completion relative to now.
func (m *Medication) Progress(now time.Time) DurationProgress {
	if m.StartDate == nil {
		return DurationProgress{}
	}
	elapsed := int(now.Sub(*m.StartDate).Hours() / 24)
	if elapsed < 0 {
		elapsed = 0
	}
	if m.EndDate == nil {
		return DurationProgress{DaysElapsed: elapsed}
	}
	total := int(m.EndDate.Sub(*m.StartDate).Hours() / 24)
	if total <= 0 {
		total = 1
	}
	pct := math.Min(100, float64(elapsed)/float64(total)*100)
	return DurationProgress{
		Progress:    math.Round(pct*10) / 10,
		DaysElapsed: elapsed,
		TotalDays:   total,
	}
}
