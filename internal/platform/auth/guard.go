package auth

import (
	"net/url"
	"strings"

	"github.com/hms/hms/internal/platform/session"
)

// Paths the guard redirects to.
const (
	SignInPath       = "/login"
	UnauthorizedPath = "/unauthorized"
	LandingPath      = "/dashboard"
)

// Outcome is the result of evaluating a protected navigation.
type Outcome int

const (
	// Wait means the session is still being resolved; render a neutral
	// waiting state and decide later.
	Wait Outcome = iota
	RedirectSignIn
	RedirectUnauthorized
	Allow
)

func (o Outcome) String() string {
	switch o {
	case Wait:
		return "wait"
	case RedirectSignIn:
		return "redirect_sign_in"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Decision is an Outcome plus, for redirects, where to go.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Evaluate decides a navigation to requested. It is pure and may be called
// on every navigation and every session change.
func Evaluate(s session.Session, requested string, required ...session.Role) Decision {
	switch {
	case s.Loading():
		return Decision{Outcome: Wait}
	case s.Identity == nil:
		return Decision{Outcome: RedirectSignIn, Location: SignInLocation(requested)}
	case len(required) > 0 && !s.Identity.HasAnyRole(required...):
		return Decision{Outcome: RedirectUnauthorized, Location: UnauthorizedPath}
	default:
		return Decision{Outcome: Allow}
	}
}

// SignInLocation is the sign-in URL remembering requested for the return
// trip.
func SignInLocation(requested string) string {
	return SignInPath + "?next=" + url.QueryEscape(SafeNext(requested))
}

// SafeNext returns next when it is a local absolute path, else LandingPath.
// Scheme-relative and absolute URLs are rejected so the post-login redirect
// cannot leave the portal.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return LandingPath
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return LandingPath
	}
	if u.Path == SignInPath {
		return LandingPath
	}
	return next
}
