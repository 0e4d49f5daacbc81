package identity

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmate/api/internal/platform/apperr"
	"github.com/healthmate/api/internal/platform/auth"
	"github.com/healthmate/api/internal/platform/respond"
	"github.com/healthmate/api/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	p := api.Group("/patients", auth.RequireRole(auth.RolePatient))
	p.GET("/me", h.Me)
	p.PUT("/me", h.SaveMe)

	d := api.Group("/doctors", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	d.GET("", h.ListDoctors)
	d.GET("/:id", h.GetDoctor)
	d.PUT("/:id/availability", h.SetAvailability, auth.RequireRole(auth.RoleDoctor))
}

func subjectID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("token subject is not a valid patient id")
	}
	return id, nil
}

func (h *Handler) Me(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}

	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond.OK(c, p)
}

func (h *Handler) SaveMe(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}

	var p Patient
	if err := c.Bind(&p); err != nil {
		return apperr.InvalidInput("invalid request body")
	}

	saved, err := h.svc.SavePatient(c.Request().Context(), id, &p)
	if err != nil {
		return err
	}
	return respond.OK(c, saved)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	availableOnly := c.QueryParam("available") == "true"

	items, total, err := h.svc.ListDoctors(c.Request().Context(), availableOnly, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid doctor id")
	}

	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return respond.OK(c, d)
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

func (h *Handler) SetAvailability(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid doctor id")
	}

	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("invalid request body")
	}

	if err := h.svc.SetDoctorAvailability(c.Request().Context(), id, req.Available); err != nil {
		return err
	}
	return respond.Message(c, "availability updated")
}
