package medication

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
	g := api.Group("/medications", auth.RequireRole(auth.RolePatient))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/low-stock", h.LowStock)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/schedule", h.GetSchedule)
	g.PUT("/:id/schedule", h.UpdateSchedule)
	g.POST("/:id/refill", h.Refill)
	g.PUT("/:id/stock", h.SetStock)
}

// PatientID resolves the authenticated patient from the request context.
func PatientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("token subject is not a valid patient id")
	}
	return id, nil
}

// medView is a Medication plus its derived stock fields.
type medView struct {
	*Medication
	StockStatus     string `json:"stock_status"`
	DaysRemaining   int    `json:"days_remaining"`
	StockPercentage int    `json:"stock_percentage"`
}

func view(m *Medication) medView {
	return medView{
		Medication:      m,
		StockStatus:     m.StockStatus(),
		DaysRemaining:   m.DaysRemaining(),
		StockPercentage: m.StockPercentage(),
	}
}

func views(items []*Medication) []medView {
	out := make([]medView, 0, len(items))
	for _, m := range items {
		out = append(out, view(m))
	}
	return out
}

func (h *Handler) Create(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}

	var m Medication
	if err := c.Bind(&m); err != nil {
		return apperr.InvalidInput(err.Error())
	}
	m.PatientID = pid

	if err := h.svc.Create(c.Request().Context(), &m); err != nil {
		return err
	}
	return respond.Created(c, view(&m))
}

func (h *Handler) Get(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	m, err := h.svc.Get(c.Request().Context(), pid, id)
	if err != nil {
		return err
	}
	return respond.OK(c, view(m))
}

func (h *Handler) List(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true"

	items, total, err := h.svc.List(c.Request().Context(), pid, activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return respond.OK(c, pagination.NewResponse(views(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	var m Medication
	if err := c.Bind(&m); err != nil {
		return apperr.InvalidInput(err.Error())
	}
	m.ID = id
	m.PatientID = pid

	if err := h.svc.Update(c.Request().Context(), &m); err != nil {
		return err
	}
	return respond.OK(c, view(&m))
}

func (h *Handler) Delete(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	if err := h.svc.Delete(c.Request().Context(), pid, id); err != nil {
		return err
	}
	return respond.Message(c, "medication deleted")
}

func (h *Handler) GetSchedule(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	sched, err := h.svc.GetSchedule(c.Request().Context(), pid, id)
	if err != nil {
		return err
	}
	return respond.OK(c, sched)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	var body struct {
		ScheduleTimes []string `json:"schedule_times"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.InvalidInput(err.Error())
	}

	sched, err := h.svc.UpdateSchedule(c.Request().Context(), pid, id, body.ScheduleTimes)
	if err != nil {
		return err
	}
	return respond.OK(c, sched)
}

func (h *Handler) Refill(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	var body struct {
		RefillAmount int  `json:"refill_amount"`
		TotalStock   *int `json:"total_stock"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.InvalidInput(err.Error())
	}

	m, err := h.svc.Refill(c.Request().Context(), pid, id, body.RefillAmount, body.TotalStock)
	if err != nil {
		return err
	}
	return respond.OK(c, view(m))
}

func (h *Handler) SetStock(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid medication id")
	}

	var body struct {
		CurrentStock *int `json:"current_stock"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.InvalidInput(err.Error())
	}
	if body.CurrentStock == nil {
		return apperr.InvalidInput("current_stock is required")
	}

	m, err := h.svc.SetStock(c.Request().Context(), pid, id, *body.CurrentStock)
	if err != nil {
		return err
	}
	return respond.OK(c, view(m))
}

func (h *Handler) LowStock(c echo.Context) error {
	pid, err := PatientID(c)
	if err != nil {
		return err
	}

	items, err := h.svc.LowStock(c.Request().Context(), pid)
	if err != nil {
		return err
	}
	return respond.OK(c, views(items))
}
