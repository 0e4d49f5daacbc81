package dose

import (
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/doses", auth.RequireRole(auth.RolePatient))
	g.GET("/today", h.Today)
	g.POST("/:medicationId/take", h.Take)
	g.POST("/:medicationId/skip", h.Skip)
	g.GET("/history", h.History)
}

func (h *Handler) Today(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}

	view, err := h.svc.TodayDoses(c.Request().Context(), pid)
	if err != nil {
		return err
	}
	return respond.Raw(c, map[string]interface{}{
		"date":    view.Date,
		"doses":   view.Doses,
		"summary": view.Summary,
	})
}

// Take marks or unmarks a dose for one of today's slots. With taken=false
// the mark is reverted and any consumed stock restored.
func (h *Handler) Take(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}
	medID, err := uuid.Parse(c.Param("medicationId"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	slot := c.QueryParam("scheduled_time")
	if slot == "" {
		return apperr.InvalidInput("scheduled_time is required")
	}

	if c.QueryParam("taken") == "false" {
		if err := h.svc.Unmark(c.Request().Context(), pid, medID, slot); err != nil {
			return err
		}
		return respond.Message(c, "dose unmarked")
	}

	result, err := h.svc.MarkTaken(c.Request().Context(), pid, medID, slot, c.QueryParam("taken_at"))
	if err != nil {
		return err
	}
	return respond.Raw(c, markFields(result))
}

func markFields(r *MarkResult) map[string]interface{} {
	return map[string]interface{}{
		"log_id":            r.LogID,
		"status":            r.Status,
		"taken_at":          r.TakenAt,
		"time_diff_minutes": r.TimeDiffMinutes,
	}
}

func (h *Handler) Skip(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}
	medID, err := uuid.Parse(c.Param("medicationId"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	slot := c.QueryParam("scheduled_time")
	if slot == "" {
		return apperr.InvalidInput("scheduled_time is required")
	}

	result, err := h.svc.MarkSkipped(c.Request().Context(), pid, medID, slot)
	if err != nil {
		return err
	}
	return respond.Raw(c, markFields(result))
}

func (h *Handler) History(c echo.Context) error {
	pid, err := medication.PatientID(c)
	if err != nil {
		return err
	}

	end := time.Now()
	start := end.AddDate(0, 0, -7)
	if v := c.QueryParam("start_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return apperr.InvalidInput("invalid start_date, expected YYYY-MM-DD")
		}
		start = t
	}
	if v := c.QueryParam("end_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return apperr.InvalidInput("invalid end_date, expected YYYY-MM-DD")
		}
		end = t
	}

	var medID *uuid.UUID
	if v := c.QueryParam("medication_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.InvalidInput("invalid medication_id")
		}
		medID = &id
	}

	view, err := h.svc.History(c.Request().Context(), pid, start, end, medID)
	if err != nil {
		return err
	}
	return respond.Raw(c, map[string]interface{}{
		"start_date":     view.StartDate,
		"end_date":       view.EndDate,
		"logs":           view.Logs,
		"adherence_rate": view.AdherenceRate,
	})
}
