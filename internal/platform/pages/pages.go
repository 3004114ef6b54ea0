// Package pages serves the portal's public HTML pages and renders errors
// for browser requests.
package pages

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names.
const (
	PageHome           = "home"
	PageLogin          = "login"
	PageRegister       = "register"
	PageForgotPassword = "forgot_password"
	PageResetPassword  = "reset_password"
	PageUnauthorized   = "unauthorized"
	PageWaiting        = "waiting"
	PageError          = "error"
)

var pageNames = []string{
	PageHome, PageLogin, PageRegister, PageForgotPassword,
	PageResetPassword, PageUnauthorized, PageWaiting, PageError,
}

// Page is the data every template receives.
type Page struct {
	Title       string
	Error       string
	Notice      string
	Message     string
	Next        string
	Form        map[string]string
	Refresh     int
	Signedin    bool
	DisplayName string
}

// Renderer implements echo.Renderer over the embedded templates. Each page
// is parsed together with the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func (r *Renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return t.ExecuteTemplate(w, "layout", data)
}

// ErrorHandler renders HTTP errors. 503 from the route guard becomes the
// waiting page, which reloads itself. Requests that prefer JSON get
// {"error": message}.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "Something went wrong. Please try again."
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			} else {
				msg = http.StatusText(code)
			}
		}
		if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Int("status", code).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(code)
			return
		}
		if wantsJSON(c.Request()) || c.Echo().Renderer == nil {
			c.JSON(code, map[string]string{"error": msg})
			return
		}

		page := Page{Title: http.StatusText(code), Message: msg}
		name := PageError
		if code == http.StatusServiceUnavailable {
			name = PageWaiting
			page.Title = "One moment"
			page.Refresh = 1
		}
		if rerr := c.Render(code, name, page); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to render error page")
		}
	}
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get(echo.HeaderAccept)
	if strings.Contains(accept, echo.MIMEApplicationJSON) && !strings.Contains(accept, echo.MIMETextHTML) {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
