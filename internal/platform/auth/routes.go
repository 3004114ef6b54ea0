package auth

import (
	"strings"

	"github.com/hms/hms/internal/platform/session"
)

// Route is a protected path prefix and the roles allowed to open it. No
// roles means any signed-in identity.
type Route struct {
	Prefix string
	Roles  []session.Role
}

// Routes is the portal's navigation table.
var Routes = []Route{
	{Prefix: "/dashboard"},
	{Prefix: "/appointments"},
	{Prefix: "/doctors"},
	{Prefix: "/messages"},
	{Prefix: "/notifications"},
	{Prefix: "/profile"},
	{Prefix: "/telemedicine"},
	{Prefix: "/health-metrics", Roles: []session.Role{session.RolePatient}},
	{Prefix: "/admin", Roles: []session.Role{session.RoleAdmin}},
}

// publicPaths bypass the guard entirely.
var publicPaths = map[string]bool{
	"/":                true,
	"/health":          true,
	"/metrics":         true,
	"/login":           true,
	"/register":        true,
	"/logout":          true,
	"/forgot-password": true,
	"/reset-password":  true,
	"/unauthorized":    true,
}

// IsPublicPath reports whether path is reachable without a session.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, "/static/")
}

// RequiredRoles looks path up in Routes. protected is false for paths the
// table does not cover.
func RequiredRoles(path string) (roles []session.Role, protected bool) {
	for _, r := range Routes {
		if path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/") {
			return r.Roles, true
		}
	}
	return nil, false
}
