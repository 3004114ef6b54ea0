// Package profile shows the signed-in user's own account.
package profile

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/session"
)

type Profile struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	FirstName        string         `json:"first_name"`
	LastName         string         `json:"last_name"`
	DisplayName      string         `json:"display_name"`
	Roles            []session.Role `json:"roles"`
	ProfileImage     string         `json:"profile_image,omitempty"`
	SessionExpiresAt *time.Time     `json:"session_expires_at,omitempty"`
}

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/profile", h.Show)
}

func (h *Handler) Show(c echo.Context) error {
	ctx := c.Request().Context()
	id := auth.IdentityFromContext(ctx)
	if id == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Please sign in.")
	}
	p := Profile{
		ID:           id.ID.String(),
		Email:        id.Email,
		FirstName:    id.FirstName,
		LastName:     id.LastName,
		DisplayName:  id.DisplayName(),
		Roles:        id.Roles,
		ProfileImage: id.ProfileImage,
	}
	if cred := auth.CredentialFromContext(ctx); cred != nil && !cred.ExpiresAt.IsZero() {
		exp := cred.ExpiresAt
		p.SessionExpiresAt = &exp
	}
	return c.JSON(http.StatusOK, p)
}
