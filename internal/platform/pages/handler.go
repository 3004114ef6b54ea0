package pages

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/session"
)

// Gateway is the subset of *auth.Gateway the pages drive.
type Gateway interface {
	SignIn(ctx context.Context, email, password string) (*session.Identity, error)
	SignUp(ctx context.Context, email, password string, profile auth.Profile) (*auth.SignUpResult, error)
	SignOut(ctx context.Context, cred *session.Credential)
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyPasswordReset(ctx context.Context, code string) error
	ConfirmPasswordReset(ctx context.Context, newPassword string) error
}

type Handler struct {
	gw     Gateway
	store  auth.SessionReader
	logger zerolog.Logger
}

func NewHandler(gw Gateway, store auth.SessionReader, logger zerolog.Logger) *Handler {
	return &Handler{gw: gw, store: store, logger: logger.With().Str("component", "pages").Logger()}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Home)
	e.GET("/login", h.LoginForm)
	e.POST("/login", h.Login, sameOriginForms)
	e.GET("/register", h.RegisterForm)
	e.POST("/register", h.Register, sameOriginForms)
	e.POST("/logout", h.Logout, sameOriginForms)
	e.GET("/forgot-password", h.ForgotPasswordForm)
	e.POST("/forgot-password", h.ForgotPassword, sameOriginForms)
	e.GET("/reset-password", h.ResetPasswordForm)
	e.POST("/reset-password", h.ResetPassword, sameOriginForms)
	e.GET("/unauthorized", h.Unauthorized)
}

func (h *Handler) Home(c echo.Context) error {
	if h.store.Get().Authenticated() {
		return c.Redirect(http.StatusSeeOther, auth.LandingPath)
	}
	return c.Render(http.StatusOK, PageHome, h.page("Welcome"))
}

// -- Sign in / sign out --

func (h *Handler) LoginForm(c echo.Context) error {
	next := auth.SafeNext(c.QueryParam("next"))
	sess := h.store.Get()
	if sess.Authenticated() {
		return c.Redirect(http.StatusSeeOther, next)
	}

	p := h.page("Sign in")
	p.Next = next
	if errors.Is(sess.LastError, auth.ErrSessionExpired) {
		p.Notice = auth.Message(sess.LastError)
	}
	return c.Render(http.StatusOK, PageLogin, p)
}

func (h *Handler) Login(c echo.Context) error {
	email := c.FormValue("email")
	next := auth.SafeNext(c.FormValue("next"))

	if _, err := h.gw.SignIn(c.Request().Context(), email, c.FormValue("password")); err != nil {
		h.logger.Debug().Str("kind", auth.Kind(err)).Msg("sign-in form rejected")
		p := h.page("Sign in")
		p.Next = next
		p.Error = auth.Message(err)
		p.Form = map[string]string{"email": email}
		return c.Render(formStatus(err), PageLogin, p)
	}
	return c.Redirect(http.StatusSeeOther, next)
}

func (h *Handler) Logout(c echo.Context) error {
	h.gw.SignOut(c.Request().Context(), h.store.Get().Credential)
	return c.Redirect(http.StatusSeeOther, auth.SignInPath)
}

// -- Registration --

func (h *Handler) RegisterForm(c echo.Context) error {
	if h.store.Get().Authenticated() {
		return c.Redirect(http.StatusSeeOther, auth.LandingPath)
	}
	return c.Render(http.StatusOK, PageRegister, h.page("Create an account"))
}

func (h *Handler) Register(c echo.Context) error {
	form := map[string]string{
		"first_name": c.FormValue("first_name"),
		"last_name":  c.FormValue("last_name"),
		"email":      c.FormValue("email"),
		"role":       strings.ToUpper(strings.TrimSpace(c.FormValue("role"))),
	}
	fail := func(status int, msg string) error {
		p := h.page("Create an account")
		p.Error = msg
		p.Form = form
		return c.Render(status, PageRegister, p)
	}

	password := c.FormValue("password")
	if password != c.FormValue("confirm_password") {
		return fail(http.StatusUnprocessableEntity, "Passwords do not match.")
	}

	res, err := h.gw.SignUp(c.Request().Context(), form["email"], password, auth.Profile{
		FirstName: form["first_name"],
		LastName:  form["last_name"],
		Role:      session.Role(form["role"]),
	})
	if err != nil {
		return fail(formStatus(err), auth.Message(err))
	}
	if res.PendingConfirmation {
		p := h.page("Sign in")
		p.Next = auth.LandingPath
		p.Notice = "Your account was created. Check your email to confirm it, then sign in."
		p.Form = map[string]string{"email": form["email"]}
		return c.Render(http.StatusOK, PageLogin, p)
	}
	return c.Redirect(http.StatusSeeOther, auth.LandingPath)
}

// -- Password reset --

func (h *Handler) ForgotPasswordForm(c echo.Context) error {
	return c.Render(http.StatusOK, PageForgotPassword, h.page("Forgot password"))
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	email := c.FormValue("email")
	if err := h.gw.RequestPasswordReset(c.Request().Context(), email); err != nil {
		p := h.page("Forgot password")
		p.Error = auth.Message(err)
		p.Form = map[string]string{"email": email}
		return c.Render(formStatus(err), PageForgotPassword, p)
	}

	p := h.page("Reset password")
	p.Notice = "We sent a code to " + strings.TrimSpace(email) + ". Enter it below with your new password."
	return c.Render(http.StatusOK, PageResetPassword, p)
}

func (h *Handler) ResetPasswordForm(c echo.Context) error {
	p := h.page("Reset password")
	p.Form = map[string]string{"code": c.QueryParam("code")}
	return c.Render(http.StatusOK, PageResetPassword, p)
}

func (h *Handler) ResetPassword(c echo.Context) error {
	code := c.FormValue("code")
	fail := func(status int, msg string) error {
		p := h.page("Reset password")
		p.Error = msg
		p.Form = map[string]string{"code": code}
		return c.Render(status, PageResetPassword, p)
	}

	password := c.FormValue("password")
	if password == "" {
		return fail(http.StatusUnprocessableEntity, "Enter a new password.")
	}
	if password != c.FormValue("confirm_password") {
		return fail(http.StatusUnprocessableEntity, "Passwords do not match.")
	}

	ctx := c.Request().Context()
	if err := h.gw.VerifyPasswordReset(ctx, code); err != nil {
		return fail(formStatus(err), auth.Message(err))
	}
	if err := h.gw.ConfirmPasswordReset(ctx, password); err != nil {
		return fail(formStatus(err), auth.Message(err))
	}

	p := h.page("Sign in")
	p.Next = auth.LandingPath
	p.Notice = "Your password has been reset. Sign in with your new password."
	return c.Render(http.StatusOK, PageLogin, p)
}

func (h *Handler) Unauthorized(c echo.Context) error {
	return c.Render(http.StatusForbidden, PageUnauthorized, h.page("Access denied"))
}

func (h *Handler) page(title string) Page {
	p := Page{Title: title}
	if s := h.store.Get(); s.Authenticated() {
		p.Signedin = true
		p.DisplayName = s.Identity.DisplayName()
	}
	return p
}

func formStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// sameOriginForms refuses form posts from other sites, so a foreign page
// cannot sign the user out or in.
func sameOriginForms(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		origin := req.Header.Get(echo.HeaderOrigin)
		if origin == "" {
			return next(c)
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host != req.Host {
			return echo.NewHTTPError(http.StatusForbidden, "Cross-site form submission refused.")
		}
		return next(c)
	}
}
