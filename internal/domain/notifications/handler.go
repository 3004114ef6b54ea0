package notifications

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/backend"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.List)
	g.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	q := Query{Type: c.QueryParam("type")}
	if v := c.QueryParam("unread"); v != "" {
		q.UnreadOnly, _ = strconv.ParseBool(v)
	}
	inbox, err := h.svc.List(c.Request().Context(), q)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inbox)
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.MarkRead(c.Request().Context(), id)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}
