package consultation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/consulta/consulta/internal/platform/auth"
	"github.com/consulta/consulta/internal/platform/lock"
	"github.com/consulta/consulta/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/agenda", h.Agenda, auth.RequireRole("professional"))
	g.GET("/stats", h.Stats, auth.RequireRole("admin"))
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/patient-view", h.PatientView)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/finish", h.Finish)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/no-show", h.NoShow)
	g.POST("/:id/reschedule", h.Reschedule)
}

func principalFromContext(c echo.Context) Principal {
	claims := auth.ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return Principal{}
	}
	p := Principal{UserID: claims.Subject, Role: claims.Role}
	if id, err := uuid.Parse(claims.ProfessionalID); err == nil {
		p.ProfessionalID = &id
	}
	if id, err := uuid.Parse(claims.PatientID); err == nil {
		p.PatientID = &id
	}
	return p
}

// httpError translates the domain error taxonomy to the HTTP surface.
func httpError(err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": vErr.Fields,
		})
	}
	var tErr *InvalidTransitionError
	if errors.As(err, &tErr) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error": tErr.Error(),
			"code":  "invalid_transition",
		})
	}
	switch {
	case errors.Is(err, ErrSlotConflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"error": ErrSlotConflict.Error(),
			"code":  "slot_conflict",
		})
	// Lock contention is transient, not a booking verdict.
	case errors.Is(err, lock.ErrNotAcquired):
		return echo.NewHTTPError(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "professional's calendar is busy, retry shortly",
			"code":  "calendar_busy",
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "operation not permitted")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Book(c.Request().Context(), principalFromContext(c), &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), principalFromContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) PatientView(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	view, err := h.svc.GetPatientView(c.Request().Context(), principalFromContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	var q ListQuery
	if v := c.QueryParam("professional_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid professional_id")
		}
		q.ProfessionalID = &pid
	}
	if v := c.QueryParam("status"); v != "" {
		q.Statuses = strings.Split(v, ",")
	}
	if v := c.QueryParam("date_from"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date_from")
		}
		q.From = &t
	}
	if v := c.QueryParam("date_to"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date_to")
		}
		q.To = &t
	}
	q.Period = c.QueryParam("period")

	items, total, err := h.svc.List(c.Request().Context(), principalFromContext(c), q, pg.Limit(), pg.Offset())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Update(c.Request().Context(), principalFromContext(c), id, &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), principalFromContext(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Confirm)
}

func (h *Handler) Start(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Start)
}

func (h *Handler) Finish(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Finish)
}

func (h *Handler) NoShow(c echo.Context) error {
	return h.simpleTransition(c, h.svc.NoShow)
}

type cancelRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Cancel(c.Request().Context(), principalFromContext(c), id, req.Reason, req.CancelledBy)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	NewScheduledStart time.Time `json:"new_scheduled_start"`
	Reason            string    `json:"reason"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clone, err := h.svc.Reschedule(c.Request().Context(), principalFromContext(c), id, req.NewScheduledStart, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, clone)
}

func (h *Handler) Agenda(c echo.Context) error {
	day := time.Now()
	if v := c.QueryParam("date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		day = t
	}
	groups, err := h.svc.Agenda(c.Request().Context(), principalFromContext(c), day)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":          day.Format("2006-01-02"),
		"professionals": groups,
	})
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context(), principalFromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) simpleTransition(c echo.Context, fn func(ctx context.Context, p Principal, id uuid.UUID) (*Appointment, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := fn(c.Request().Context(), principalFromContext(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
