package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/session"
)

type contextKey string

const (
	IdentityKey   contextKey = "identity"
	CredentialKey contextKey = "credential"
)

// SessionReader is the read side of session.Store.
type SessionReader interface {
	Get() session.Session
}

// DecisionRecorder receives every guard outcome. *telemetry.Provider
// implements it.
type DecisionRecorder interface {
	GuardDecision(outcome string)
}

// Guard applies Evaluate to HTTP requests.
type Guard struct {
	store SessionReader
	rec   DecisionRecorder
}

// NewGuard returns a guard over store. rec may be nil.
func NewGuard(store SessionReader, rec DecisionRecorder) *Guard {
	return &Guard{store: store, rec: rec}
}

// Protect is NewGuard(store, nil).Require(roles...).
func Protect(store SessionReader, roles ...session.Role) echo.MiddlewareFunc {
	return NewGuard(store, nil).Require(roles...)
}

// Check evaluates path against the route table without serving it.
func (g *Guard) Check(path string) Decision {
	if IsPublicPath(path) {
		return Decision{Outcome: Allow}
	}
	roles, _ := RequiredRoles(path)
	return g.decide(g.store.Get(), path, roles)
}

// Require guards every request with the given roles.
func (g *Guard) Require(roles ...session.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return g.serve(c, next, roles)
		}
	}
}

// Routes guards requests using the Routes table. Public paths and paths
// outside the table pass through untouched.
func (g *Guard) Routes() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if IsPublicPath(path) {
				return next(c)
			}
			roles, protected := RequiredRoles(path)
			if !protected {
				return next(c)
			}
			return g.serve(c, next, roles)
		}
	}
}

func (g *Guard) serve(c echo.Context, next echo.HandlerFunc, roles []session.Role) error {
	req := c.Request()
	sess := g.store.Get()

	d := g.decide(sess, req.URL.RequestURI(), roles)
	switch d.Outcome {
	case Wait:
		c.Response().Header().Set("Retry-After", "1")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Checking your session. This page will reload shortly.")
	case RedirectSignIn, RedirectUnauthorized:
		return c.Redirect(http.StatusSeeOther, d.Location)
	}

	ctx := WithSession(req.Context(), sess.Identity, sess.Credential)
	c.SetRequest(req.WithContext(ctx))
	return next(c)
}

func (g *Guard) decide(sess session.Session, requested string, roles []session.Role) Decision {
	d := Evaluate(sess, requested, roles...)
	if g.rec != nil {
		g.rec.GuardDecision(d.Outcome.String())
	}
	return d
}

// WithSession stores the identity and credential a guarded handler runs as.
func WithSession(ctx context.Context, id *session.Identity, cred *session.Credential) context.Context {
	ctx = context.WithValue(ctx, IdentityKey, id)
	return context.WithValue(ctx, CredentialKey, cred)
}

func IdentityFromContext(ctx context.Context) *session.Identity {
	v, _ := ctx.Value(IdentityKey).(*session.Identity)
	return v
}

func CredentialFromContext(ctx context.Context) *session.Credential {
	v, _ := ctx.Value(CredentialKey).(*session.Credential)
	return v
}

// RolesFromContext returns the roles of the guarded identity, if any.
func RolesFromContext(ctx context.Context) []session.Role {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Roles
	}
	return nil
}
