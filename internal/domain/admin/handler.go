package admin

import (
	"net/http"
	"strings"

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

// RegisterRoutes mounts the admin views. The route guard already limits
// /admin to ADMIN callers.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/admin/users", h.ListSystemUsers)
	g.GET("/admin/users/:id", h.GetSystemUser)
	g.PUT("/admin/users/:id/roles", h.SetRoles)
	g.PUT("/admin/users/:id/status", h.SetStatus)
	g.GET("/admin/roles", h.ListRoles)
}

func (h *Handler) ListSystemUsers(c echo.Context) error {
	q := UserQuery{
		Search: c.QueryParam("q"),
		Role:   session.Role(strings.ToUpper(c.QueryParam("role"))),
	}
	items, err := h.svc.ListSystemUsers(c.Request().Context(), q)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}

func (h *Handler) GetSystemUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetSystemUser(c.Request().Context(), id)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetRoles(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in RoleAssignment
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	u, err := h.svc.SetRoles(ctx, auth.IdentityFromContext(ctx), id, in.Roles)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in StatusUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	u, err := h.svc.SetActive(ctx, auth.IdentityFromContext(ctx), id, in.Active)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListRoles(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"roles": AssignableRoles})
}
