package scheduling

import (
	"time"

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
	g := api.Group("/appointments", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	g.GET("", h.List)
	g.POST("", h.Book)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.UpdateStatus)
	g.DELETE("/:id", h.Cancel)
}

// actor resolves the caller and whether they act as a doctor. A token
// carrying both roles is treated as a patient.
func actor(c echo.Context) (uuid.UUID, bool, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, false, apperr.Unauthorized("token subject is not a valid user id")
	}

	asDoctor := false
	for _, r := range auth.RolesFromContext(c.Request().Context()) {
		if r == auth.RoleDoctor {
			asDoctor = true
		}
		if r == auth.RolePatient {
			return id, false, nil
		}
	}
	return id, asDoctor, nil
}

type bookRequest struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason"`
}

func (h *Handler) Book(c echo.Context) error {
	id, _, err := actor(c)
	if err != nil {
		return err
	}

	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("invalid request body")
	}

	appt, err := h.svc.Book(c.Request().Context(), id, &Appointment{
		DoctorID:    req.DoctorID,
		ScheduledAt: req.ScheduledAt,
		Reason:      req.Reason,
	})
	if err != nil {
		return err
	}
	return respond.Created(c, appt)
}

func (h *Handler) List(c echo.Context) error {
	id, asDoctor, err := actor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	var items []*Appointment
	var total int
	if asDoctor {
		items, total, err = h.svc.ListForDoctor(c.Request().Context(), id, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListForPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	}
	if err != nil {
		return err
	}
	return respond.OK(c, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, asDoctor, err := actor(c)
	if err != nil {
		return err
	}
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid appointment id")
	}

	appt, err := h.svc.Get(c.Request().Context(), id, asDoctor, apptID)
	if err != nil {
		return err
	}
	return respond.OK(c, appt)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, asDoctor, err := actor(c)
	if err != nil {
		return err
	}
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid appointment id")
	}

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("invalid request body")
	}

	appt, err := h.svc.UpdateStatus(c.Request().Context(), id, asDoctor, apptID, req.Status)
	if err != nil {
		return err
	}
	return respond.OK(c, appt)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, asDoctor, err := actor(c)
	if err != nil {
		return err
	}
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid appointment id")
	}

	if err := h.svc.Cancel(c.Request().Context(), id, asDoctor, apptID); err != nil {
		return err
	}
	return respond.Message(c, "appointment cancelled")
}
