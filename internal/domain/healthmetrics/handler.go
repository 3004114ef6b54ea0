package healthmetrics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the views under /health-metrics, which the route
// table restricts to patients.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/health-metrics", h.Recent)
	g.GET("/health-metrics/:metric", h.Readings)
	g.POST("/health-metrics/:metric", h.Record)
}

func (h *Handler) Recent(c echo.Context) error {
	summary, err := h.svc.Recent(c.Request().Context())
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) Readings(c echo.Context) error {
	metric, ok := ParseMetricType(c.Param("metric"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown metric")
	}
	items, err := h.svc.Readings(c.Request().Context(), metric)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}

func (h *Handler) Record(c echo.Context) error {
	metric, ok := ParseMetricType(c.Param("metric"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown metric")
	}
	var in ReadingCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Record(c.Request().Context(), metric, &in)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}
