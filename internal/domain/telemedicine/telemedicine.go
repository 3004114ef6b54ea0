// Package telemedicine answers video-visit launch requests. Visits are not
// offered yet, so every launch reports the service as unavailable once the
// appointment itself checks out.
package telemedicine

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
)

const (
	StatusUnavailable = "unavailable"

	unavailableMessage = "Video visits are not available yet. Your appointment will take place in person."
)

type Appointments interface {
	GetAppointment(ctx context.Context, caller *session.Identity, id uuid.UUID) (*scheduling.Appointment, error)
}

type Launch struct {
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Status        string     `json:"status"`
	Message       string     `json:"message"`
}

type Handler struct {
	appts Appointments
}

func NewHandler(appts Appointments) *Handler {
	return &Handler{appts: appts}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/telemedicine", h.Overview)
	g.GET("/telemedicine/:appointmentId", h.Launch)
}

func (h *Handler) Overview(c echo.Context) error {
	return c.JSON(http.StatusOK, Launch{Status: StatusUnavailable, Message: unavailableMessage})
}

func (h *Handler) Launch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("appointmentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	ctx := c.Request().Context()
	appt, err := h.appts.GetAppointment(ctx, auth.IdentityFromContext(ctx), id)
	if err != nil {
		return backend.HTTPError(err)
	}
	if !appt.Status.Active() {
		return backend.HTTPError(backend.Invalid("appointment is %s", appt.Status))
	}
	return c.JSON(http.StatusOK, Launch{AppointmentID: &appt.ID, Status: StatusUnavailable, Message: unavailableMessage})
}
