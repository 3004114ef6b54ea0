package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers every portal page carries.
// Pages may only load their own scripts and styles and open websockets back
// to the portal.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Content-Security-Policy",
				"default-src 'self'; img-src 'self' https: data:; connect-src 'self'; "+
					"form-action 'self'; frame-ancestors 'none'; base-uri 'none'")
			h.Set("Referrer-Policy", "same-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Pages carry patient data.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
