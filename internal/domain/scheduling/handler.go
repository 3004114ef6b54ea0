package scheduling

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/appointments", h.ListAppointments)
	g.POST("/appointments", h.BookAppointment)
	g.GET("/appointments/upcoming", h.Upcoming)
	g.GET("/appointments/slots", h.AvailableSlots)
	g.GET("/appointments/availability", h.CheckAvailability)
	g.GET("/appointments/:id", h.GetAppointment)
	g.PUT("/appointments/:id", h.UpdateAppointment)
	g.DELETE("/appointments/:id", h.CancelAppointment)

	g.GET("/doctors", h.ListDoctors)
}

// -- Appointment Handlers --

func (h *Handler) ListAppointments(c echo.Context) error {
	f := AppointmentFilter{
		StartDate: c.QueryParam("start_date"),
		EndDate:   c.QueryParam("end_date"),
	}
	var err error
	if f.DoctorID, err = optionalUUID(c.QueryParam("doctor_id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	if f.PatientID, err = optionalUUID(c.QueryParam("patient_id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	for _, st := range c.QueryParams()["status"] {
		f.Status = append(f.Status, AppointmentStatus(st))
	}

	items, err := h.svc.ListAppointments(c.Request().Context(), caller(c), f)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}

func (h *Handler) Upcoming(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.Upcoming(c.Request().Context(), limit)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), caller(c), id)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var in AppointmentCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.BookAppointment(c.Request().Context(), caller(c), &in)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var u AppointmentUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), caller(c), id, &u)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.CancelAppointment(c.Request().Context(), caller(c), id); err != nil {
		return backend.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Slot Handlers --

func (h *Handler) AvailableSlots(c echo.Context) error {
	q, err := slotQuery(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), q)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, slots)
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	q, err := slotQuery(c)
	if err != nil {
		return err
	}
	ok, err := h.svc.CheckAvailability(c.Request().Context(), q)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"available": ok})
}

func slotQuery(c echo.Context) (SlotQuery, error) {
	doctorID, err := uuid.Parse(c.QueryParam("doctor_id"))
	if err != nil {
		return SlotQuery{}, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	q := SlotQuery{DoctorID: doctorID, Date: c.QueryParam("date")}
	if d := c.QueryParam("duration"); d != "" {
		if q.Duration, err = strconv.Atoi(d); err != nil {
			return SlotQuery{}, echo.NewHTTPError(http.StatusBadRequest, "invalid duration")
		}
	}
	return q, nil
}

// -- Doctor Handlers --

func (h *Handler) ListDoctors(c echo.Context) error {
	accepting, _ := strconv.ParseBool(c.QueryParam("accepting"))
	items, err := h.svc.ListDoctors(c.Request().Context(), DoctorQuery{
		Specialty:     c.QueryParam("specialty"),
		Search:        c.QueryParam("q"),
		AcceptingOnly: accepting,
	})
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}

func caller(c echo.Context) *session.Identity {
	return auth.IdentityFromContext(c.Request().Context())
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
