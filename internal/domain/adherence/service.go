package adherence

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/api/internal/domain/dose"
	"github.com/healthmate/api/internal/domain/medication"
	"github.com/healthmate/api/internal/platform/apperr"
)

// DoseLog is the slice of the dose service the aggregator reads from.
type DoseLog interface {
	ListRange(ctx context.Context, patientID uuid.UUID, start, end time.Time, medicationID *uuid.UUID) ([]*dose.LogEntry, error)
}

// MedicationDirectory resolves schedules and names for the aggregator.
type MedicationDirectory interface {
	Get(ctx context.Context, patientID, id uuid.UUID) (*medication.Medication, error)
	ListActive(ctx context.Context, patientID uuid.UUID) ([]*medication.Medication, error)
}

type Service struct {
	doses DoseLog
	meds  MedicationDirectory
	win   dose.Windows
	now   func() time.Time
}

func NewService(doses DoseLog, meds MedicationDirectory, win dose.Windows) *Service {
	return &Service{doses: doses, meds: meds, win: win, now: time.Now}
}

const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

// periodStart maps a named period onto a window start relative to today.
// "all" is bounded at a year to keep aggregation cost predictable.
func periodStart(period string, today time.Time) (time.Time, error) {
	switch period {
	case "", PeriodWeek:
		return today.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return today.AddDate(0, 0, -30), nil
	case PeriodAll:
		return today.AddDate(0, 0, -365), nil
	}
	return time.Time{}, apperr.InvalidInputf("invalid period %q, expected week, month or all", period)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// record is one expected dose slot with its resolved outcome: the persisted
// log status where a row exists, or missed when the slot's grace window has
// elapsed unlogged. Future slots never become records.
type record struct {
	MedicationID   uuid.UUID
	MedicationName string
	Date           time.Time
	Slot           string
	Status         string
	WasLate        bool
}

func (r record) takenPositive() bool {
	return r.Status == dose.StatusTaken || r.Status == dose.StatusLate
}

// expectedRecords materializes every expected dose in [start, end] from the
// active medications' schedules, merged with the persisted log. Log rows that
// no current schedule produces (schedule edits, deactivated medications) are
// still included so history never silently shrinks.
func (s *Service) expectedRecords(ctx context.Context, patientID uuid.UUID, start, end time.Time, medicationID *uuid.UUID) ([]record, error) {
	now := s.now()

	logs, err := s.doses.ListRange(ctx, patientID, start, end, medicationID)
	if err != nil {
		return nil, err
	}
	logIdx := make(map[string]*dose.LogEntry, len(logs))
	for _, e := range logs {
		logIdx[e.MedicationID.String()+"|"+e.Date.Format("2006-01-02")+"|"+e.ScheduledTime] = e
	}

	meds, err := s.meds.ListActive(ctx, patientID)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(meds))
	for _, m := range meds {
		names[m.ID] = m.Name
	}

	var out []record
	seen := make(map[string]bool, len(logs))
	for d := day(start); !d.After(day(end)); d = d.AddDate(0, 0, 1) {
		for _, med := range meds {
			if medicationID != nil && med.ID != *medicationID {
				continue
			}
			if !med.ActiveOn(d) {
				continue
			}
			for _, slot := range med.ScheduleTimes {
				key := med.ID.String() + "|" + d.Format("2006-01-02") + "|" + slot
				if e, ok := logIdx[key]; ok {
					seen[key] = true
					out = append(out, record{
						MedicationID:   med.ID,
						MedicationName: med.Name,
						Date:           d,
						Slot:           slot,
						Status:         e.Status,
						WasLate:        e.WasLate,
					})
					continue
				}
				scheduled, err := dose.ParseSlot(d, slot)
				if err != nil {
					continue
				}
				if now.After(scheduled.Add(s.win.Grace)) {
					out = append(out, record{
						MedicationID:   med.ID,
						MedicationName: med.Name,
						Date:           d,
						Slot:           slot,
						Status:         dose.StatusMissed,
					})
				}
			}
		}
	}

	for _, e := range logs {
		key := e.MedicationID.String() + "|" + e.Date.Format("2006-01-02") + "|" + e.ScheduledTime
		if seen[key] {
			continue
		}
		name, ok := names[e.MedicationID]
		if !ok {
			if med, err := s.meds.Get(ctx, patientID, e.MedicationID); err == nil {
				name = med.Name
			} else {
				name = "Unknown"
			}
			names[e.MedicationID] = name
		}
		out = append(out, record{
			MedicationID:   e.MedicationID,
			MedicationName: name,
			Date:           e.Date,
			Slot:           e.ScheduledTime,
			Status:         e.Status,
			WasLate:        e.WasLate,
		})
	}
	return out, nil
}

// Summary carries the aggregate counters for a stats window. Taken includes
// late takes; on-time percentage is the share of takes inside the window.
type Summary struct {
	TotalDoses          int     `json:"total_doses"`
	Taken               int     `json:"taken"`
	Missed              int     `json:"missed"`
	Late                int     `json:"late"`
	Skipped             int     `json:"skipped"`
	AdherencePercentage float64 `json:"adherence_percentage"`
	OnTimePercentage    float64 `json:"on_time_percentage"`
}

type MedicationStats struct {
	MedicationID        uuid.UUID `json:"medication_id"`
	Taken               int       `json:"taken"`
	Missed              int       `json:"missed"`
	Late                int       `json:"late"`
	Skipped             int       `json:"skipped"`
	Total               int       `json:"total"`
	AdherencePercentage float64   `json:"adherence_percentage"`
}

type DateStats struct {
	Taken  int `json:"taken"`
	Missed int `json:"missed"`
	Total  int `json:"total"`
}

type Stats struct {
	Period       string                      `json:"period"`
	StartDate    string                      `json:"start_date"`
	EndDate      string                      `json:"end_date"`
	Summary      Summary                     `json:"summary"`
	ByMedication map[string]*MedicationStats `json:"by_medication"`
	ByDate       map[string]*DateStats       `json:"by_date"`
}

// Stats aggregates adherence over a named period, overall and broken down by
// medication and by date.
func (s *Service) Stats(ctx context.Context, patientID uuid.UUID, period string, medicationID *uuid.UUID) (*Stats, error) {
	today := day(s.now())
	start, err := periodStart(period, today)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = PeriodWeek
	}

	records, err := s.expectedRecords(ctx, patientID, start, today, medicationID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Period:       period,
		StartDate:    start.Format("2006-01-02"),
		EndDate:      today.Format("2006-01-02"),
		ByMedication: make(map[string]*MedicationStats),
		ByDate:       make(map[string]*DateStats),
	}

	for _, r := range records {
		med, ok := stats.ByMedication[r.MedicationName]
		if !ok {
			med = &MedicationStats{MedicationID: r.MedicationID}
			stats.ByMedication[r.MedicationName] = med
		}
		date, ok := stats.ByDate[r.Date.Format("2006-01-02")]
		if !ok {
			date = &DateStats{}
			stats.ByDate[r.Date.Format("2006-01-02")] = date
		}

		stats.Summary.TotalDoses++
		med.Total++
		date.Total++

		switch {
		case r.takenPositive():
			stats.Summary.Taken++
			med.Taken++
			date.Taken++
			if r.Status == dose.StatusLate || r.WasLate {
				stats.Summary.Late++
				med.Late++
			}
		case r.Status == dose.StatusMissed:
			stats.Summary.Missed++
			med.Missed++
			date.Missed++
		case r.Status == dose.StatusSkipped:
			stats.Summary.Skipped++
			med.Skipped++
		}
	}

	if stats.Summary.TotalDoses > 0 {
		stats.Summary.AdherencePercentage = round1(float64(stats.Summary.Taken) / float64(stats.Summary.TotalDoses) * 100)
	}
	if stats.Summary.Taken > 0 {
		stats.Summary.OnTimePercentage = round1(float64(stats.Summary.Taken-stats.Summary.Late) / float64(stats.Summary.Taken) * 100)
	} else {
		stats.Summary.OnTimePercentage = 100
	}
	for _, med := range stats.ByMedication {
		if med.Total > 0 {
			med.AdherencePercentage = round1(float64(med.Taken) / float64(med.Total) * 100)
		}
	}
	return stats, nil
}

// MissedDose identifies one missed slot.
type MissedDose struct {
	MedicationID   uuid.UUID `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	Date           string    `json:"date"`
	TimeSlot       string    `json:"time_slot"`
	ScheduledAt    string    `json:"scheduled_at"`
}

type MissedDoses struct {
	MissedDoses []MissedDose `json:"missed_doses"`
	Count       int          `json:"count"`
}

const DefaultMissedLimit = 20

// MissedDoses lists missed slots newest first, bounded by limit. The default
// window is the last year unless a range is given.
func (s *Service) MissedDoses(ctx context.Context, patientID uuid.UUID, limit int, medicationID *uuid.UUID, start, end *time.Time) (*MissedDoses, error) {
	if limit <= 0 {
		limit = DefaultMissedLimit
	}
	today := day(s.now())
	from := today.AddDate(0, 0, -365)
	to := today
	if start != nil {
		from = day(*start)
	}
	if end != nil {
		to = day(*end)
	}
	if to.Before(from) {
		return nil, apperr.InvalidInput("end_date cannot be before start_date")
	}

	records, err := s.expectedRecords(ctx, patientID, from, to, medicationID)
	if err != nil {
		return nil, err
	}

	var missed []record
	for _, r := range records {
		if r.Status == dose.StatusMissed {
			missed = append(missed, r)
		}
	}
	sort.Slice(missed, func(i, j int) bool {
		if !missed[i].Date.Equal(missed[j].Date) {
			return missed[i].Date.After(missed[j].Date)
		}
		return missed[i].Slot > missed[j].Slot
	})
	if len(missed) > limit {
		missed = missed[:limit]
	}

	out := &MissedDoses{MissedDoses: make([]MissedDose, 0, len(missed))}
	for _, r := range missed {
		scheduled, err := dose.ParseSlot(r.Date, r.Slot)
		if err != nil {
			continue
		}
		out.MissedDoses = append(out.MissedDoses, MissedDose{
			MedicationID:   r.MedicationID,
			MedicationName: r.MedicationName,
			Date:           r.Date.Format("2006-01-02"),
			TimeSlot:       r.Slot,
			ScheduledAt:    scheduled.Format(time.RFC3339),
		})
	}
	out.Count = len(out.MissedDoses)
	return out, nil
}

type Streak struct {
	CurrentStreak  int     `json:"current_streak"`
	BestStreak     int     `json:"best_streak"`
	LastBrokenDate *string `json:"last_broken_date"`
	IsPerfectToday bool    `json:"is_perfect_today"`
}

// streakWindowDays bounds the history the streak walks over.
const streakWindowDays = 365

// Streak computes the run of consecutive days where every expected dose was
// taken. Late takes keep the streak alive; missed or skipped doses break it.
// Days with no expected doses are skipped, not counted and not breaking.
// Today extends the streak only once all of its slots are already taken.
func (s *Service) Streak(ctx context.Context, patientID uuid.UUID) (*Streak, error) {
	today := day(s.now())
	start := today.AddDate(0, 0, -streakWindowDays)

	records, err := s.expectedRecords(ctx, patientID, start, today, nil)
	if err != nil {
		return nil, err
	}

	// Today's records stop at the last elapsed or logged slot, so a partial
	// day looks complete in them. Count the full schedule to know how many
	// slots today actually has.
	meds, err := s.meds.ListActive(ctx, patientID)
	if err != nil {
		return nil, err
	}
	todaySlots := 0
	for _, med := range meds {
		if med.ActiveOn(today) {
			todaySlots += len(med.ScheduleTimes)
		}
	}

	type dayStat struct{ total, taken, bad int }
	days := make(map[string]*dayStat)
	for _, r := range records {
		key := r.Date.Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &dayStat{}
			days[key] = d
		}
		d.total++
		if r.takenPositive() {
			d.taken++
		} else if r.Status == dose.StatusMissed || r.Status == dose.StatusSkipped {
			d.bad++
		}
	}
	perfect := func(d *dayStat) bool { return d != nil && d.total > 0 && d.bad == 0 && d.taken == d.total }

	out := &Streak{}

	// Today counts only when every scheduled slot is already taken. Pending
	// or available slots are still open, so an incomplete today neither
	// extends nor breaks the streak.
	if t := days[today.Format("2006-01-02")]; t != nil && todaySlots > 0 {
		out.IsPerfectToday = perfect(t) && t.total >= todaySlots
		if out.IsPerfectToday {
			out.CurrentStreak++
		}
	}

	for d := today.AddDate(0, 0, -1); !d.Before(start); d = d.AddDate(0, 0, -1) {
		stat, ok := days[d.Format("2006-01-02")]
		if !ok || stat.total == 0 {
			continue
		}
		if perfect(stat) {
			out.CurrentStreak++
			continue
		}
		broken := d.Format("2006-01-02")
		out.LastBrokenDate = &broken
		break
	}

	best, run := 0, 0
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		stat, ok := days[d.Format("2006-01-02")]
		if !ok || stat.total == 0 {
			continue
		}
		if perfect(stat) {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	out.BestStreak = best
	if out.CurrentStreak > out.BestStreak {
		out.BestStreak = out.CurrentStreak
	}
	return out, nil
}

// TimeOfDayBucket aggregates adherence for one slice of the day.
type TimeOfDayBucket struct {
	Period              string  `json:"period"`
	Label               string  `json:"label"`
	Total               int     `json:"total"`
	Taken               int     `json:"taken"`
	Missed              int     `json:"missed"`
	AdherencePercentage float64 `json:"adherence_percentage"`
	MissPercentage      float64 `json:"miss_percentage"`
}

type TimeOfDayAnalysis struct {
	Period        string            `json:"period"`
	TimeAnalysis  []TimeOfDayBucket `json:"time_analysis"`
	WorstPeriod   string            `json:"worst_period,omitempty"`
	WorstMissRate float64           `json:"worst_miss_rate"`
	Insight       string            `json:"insight"`
}

func bucketFor(slot string) string {
	t, err := time.Parse("15:04", slot)
	hour := 12
	if err == nil {
		hour = t.Hour()
	}
	switch {
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18:
		return "evening"
	default:
		return "night"
	}
}

// TimeOfDay groups doses into morning, afternoon, evening and night buckets
// and reports where misses concentrate.
func (s *Service) TimeOfDay(ctx context.Context, patientID uuid.UUID, period string) (*TimeOfDayAnalysis, error) {
	today := day(s.now())
	start, err := periodStart(period, today)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = PeriodWeek
	}

	records, err := s.expectedRecords(ctx, patientID, start, today, nil)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		"morning":   "Morning (6AM-12PM)",
		"afternoon": "Afternoon (12PM-6PM)",
		"evening":   "Evening (6PM-12AM)",
		"night":     "Night (12AM-6AM)",
	}
	buckets := make(map[string]*TimeOfDayBucket)
	for _, r := range records {
		key := bucketFor(r.Slot)
		b, ok := buckets[key]
		if !ok {
			b = &TimeOfDayBucket{Period: key, Label: labels[key]}
			buckets[key] = b
		}
		b.Total++
		if r.takenPositive() {
			b.Taken++
		} else if r.Status == dose.StatusMissed {
			b.Missed++
		}
	}

	out := &TimeOfDayAnalysis{Period: period}
	for _, key := range []string{"morning", "afternoon", "evening", "night"} {
		b, ok := buckets[key]
		if !ok {
			continue
		}
		b.AdherencePercentage = round1(float64(b.Taken) / float64(b.Total) * 100)
		b.MissPercentage = round1(float64(b.Missed) / float64(b.Total) * 100)
		if b.MissPercentage > out.WorstMissRate {
			out.WorstMissRate = b.MissPercentage
			out.WorstPeriod = key
		}
		out.TimeAnalysis = append(out.TimeAnalysis, *b)
	}

	if out.WorstPeriod != "" && out.WorstMissRate > 0 {
		out.Insight = fmt.Sprintf("You tend to miss doses most in the %s (%.1f%% miss rate)", out.WorstPeriod, out.WorstMissRate)
	} else {
		out.Insight = "Great job! No clear problem times."
	}
	return out, nil
}

// WeekStats is one side of the week-over-week comparison.
type WeekStats struct {
	StartDate           string  `json:"start_date"`
	EndDate             string  `json:"end_date"`
	Total               int     `json:"total"`
	Taken               int     `json:"taken"`
	Missed              int     `json:"missed"`
	AdherencePercentage float64 `json:"adherence_percentage"`
}

type Comparison struct {
	CurrentWeek  WeekStats `json:"current_week"`
	PreviousWeek WeekStats `json:"previous_week"`
	Delta        float64   `json:"delta"`
	Trend        string    `json:"trend"`
	Insight      string    `json:"insight"`
}

func (s *Service) weekStats(ctx context.Context, patientID uuid.UUID, start, end time.Time) (WeekStats, error) {
	ws := WeekStats{
		StartDate: start.Format("2006-01-02"),
		EndDate:   end.Format("2006-01-02"),
	}
	records, err := s.expectedRecords(ctx, patientID, start, end, nil)
	if err != nil {
		return ws, err
	}
	for _, r := range records {
		ws.Total++
		if r.takenPositive() {
			ws.Taken++
		} else if r.Status == dose.StatusMissed {
			ws.Missed++
		}
	}
	if ws.Total > 0 {
		ws.AdherencePercentage = round1(float64(ws.Taken) / float64(ws.Total) * 100)
	}
	return ws, nil
}

// Comparison contrasts the last 7 days with the 7 days before them and
// classifies the trend. Swings within 5 points count as stable.
func (s *Service) Comparison(ctx context.Context, patientID uuid.UUID) (*Comparison, error) {
	today := day(s.now())

	current, err := s.weekStats(ctx, patientID, today.AddDate(0, 0, -6), today)
	if err != nil {
		return nil, err
	}
	previous, err := s.weekStats(ctx, patientID, today.AddDate(0, 0, -13), today.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	out := &Comparison{CurrentWeek: current, PreviousWeek: previous}
	if previous.Total > 0 {
		out.Delta = round1(current.AdherencePercentage - previous.AdherencePercentage)
	}
	switch {
	case out.Delta > 5:
		out.Trend = "improving"
		out.Insight = fmt.Sprintf("Great progress! You're up %.1f%% from last week.", out.Delta)
	case out.Delta < -5:
		out.Trend = "declining"
		out.Insight = fmt.Sprintf("Your adherence dropped %.1f%% from last week. Let's get back on track!", -out.Delta)
	default:
		out.Trend = "stable"
		out.Insight = "You're maintaining steady adherence. Keep it up!"
	}
	return out, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
