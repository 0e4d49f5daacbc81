package adherence

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmate/api/internal/domain/medication"
	"github.com/healthmate/api/internal/platform/apperr"
	"github.com/healthmate/api/internal/platform/auth"
	"github.com/healthmate/api/internal/platform/respond"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the analytics endpoints under /medications/adherence.
// The static prefix wins over the registry's /medications/:id routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/medications/adherence", auth.RequireRole(auth.RolePatient))
	g.GET("/stats", h.Stats)
	g.GET("/missed", h.Missed)
	g.GET("/streak", h.Streak)
	g.GET("/timeofday", h.TimeOfDay)
	g.GET("/comparison", h.Comparison)
}

func medicationIDParam(c echo.Context) (*uuid.UUID, error) {
	v := c.QueryParam("medication_id")
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.InvalidInput("invalid medication_id")
	}
	return &id, nil
}

func dateParam(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, apperr.InvalidInputf("invalid %s, expected YYYY-MM-DD", name)
	}
	return &t, nil
}

func (h *Handler) Stats(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}
	medID, err := medicationIDParam(c)
	if err != nil {
		return err
	}

	stats, err := h.svc.Stats(c.Request().Context(), pid, c.QueryParam("period"), medID)
	if err != nil {
		return err
	}
	return respond.Raw(c, map[string]interface{}{
		"period":        stats.Period,
		"start_date":    stats.StartDate,
		"end_date":      stats.EndDate,
		"summary":       stats.Summary,
		"by_medication": stats.ByMedication,
		"by_date":       stats.ByDate,
	})
}

func (h *Handler) Missed(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}
	medID, err := medicationIDParam(c)
	if err != nil {
		return err
	}
	start, err := dateParam(c, "start_date")
	if err != nil {
		return err
	}
	end, err := dateParam(c, "end_date")
	if err != nil {
		return err
	}

	limit := DefaultMissedLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return apperr.InvalidInput("limit must be a positive integer")
		}
		limit = n
	}

	missed, err := h.svc.MissedDoses(c.Request().Context(), pid, limit, medID, start, end)
	if err != nil {
		return err
	}
	return respond.Raw(c, map[string]interface{}{
		"missed_doses": missed.MissedDoses,
		"count":        missed.Count,
	})
}

func (h *Handler) Streak(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}

	streak, err := h.svc.Streak(c.Request().Context(), pid)
	if err != nil {
		return err
	}
	return respond.Raw(c, map[string]interface{}{
		"current_streak":   streak.CurrentStreak,
		"best_streak":      streak.BestStreak,
		"last_broken_date": streak.LastBrokenDate,
		"is_perfect_today": streak.IsPerfectToday,
	})
}

func (h *Handler) TimeOfDay(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}

	analysis, err := h.svc.TimeOfDay(c.Request().Context(), pid, c.QueryParam("period"))
	if err != nil {
		return err
	}
	return respond.Raw(c, map[string]interface{}{
		"period":          analysis.Period,
		"time_analysis":   analysis.TimeAnalysis,
		"worst_period":    analysis.WorstPeriod,
		"worst_miss_rate": analysis.WorstMissRate,
		"insight":         analysis.Insight,
	})
}

func (h *Handler) Comparison(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}

	cmp, err := h.svc.Comparison(c.Request().Context(), pid)
	if err != nil {
		return err
	}
	return respond.Raw(c, map[string]interface{}{
		"current_week":  cmp.CurrentWeek,
		"previous_week": cmp.PreviousWeek,
		"delta":         cmp.Delta,
		"trend":         cmp.Trend,
		"insight":       cmp.Insight,
	})
}
