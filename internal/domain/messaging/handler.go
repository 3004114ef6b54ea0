package messaging

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/messages", h.ListConversations)
	g.POST("/messages", h.StartConversation)
	g.GET("/messages/recent", h.Recent)
	g.GET("/messages/:id", h.ListMessages)
	g.POST("/messages/:id", h.Send)
}

func (h *Handler) ListConversations(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.Conversations(ctx, auth.IdentityFromContext(ctx))
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Slice(items, pagination.FromContext(c)))
}

func (h *Handler) StartConversation(c echo.Context) error {
	var in struct {
		ParticipantID uuid.UUID `json:"participant_id"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	conv, err := h.svc.StartConversation(ctx, auth.IdentityFromContext(ctx), in.ParticipantID)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	items, err := h.svc.Messages(ctx, auth.IdentityFromContext(ctx), id)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Send(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	msg, err := h.svc.Send(ctx, auth.IdentityFromContext(ctx), id, in.Content)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) Recent(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.Recent(c.Request().Context(), limit)
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}
