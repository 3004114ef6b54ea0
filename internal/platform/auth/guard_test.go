package auth

import (
	"testing"

	"github.com/hms/hms/internal/platform/session"
)

func TestEvaluate(t *testing.T) {
	patient := session.Session(authenticatedAs(session.RolePatient))
	doctor := session.Session(authenticatedAs(session.RoleDoctor))
	admin := session.Session(authenticatedAs(session.RoleAdmin))
	anonymous := session.Session{Status: session.StatusAnonymous}

	tests := []struct {
		name     string
		sess     session.Session
		required []session.Role
		want     Outcome
	}{
		{"uninitialized waits", session.Session{}, nil, Wait},
		{"loading waits", session.Session{Status: session.StatusLoading}, nil, Wait},
		{"loading waits even with roles", session.Session{Status: session.StatusLoading}, []session.Role{session.RoleAdmin}, Wait},
		{"anonymous to sign in", anonymous, nil, RedirectSignIn},
		{"anonymous to sign in before role check", anonymous, []session.Role{session.RoleAdmin}, RedirectSignIn},
		{"no roles required", doctor, nil, Allow},
		{"role matches", patient, []session.Role{session.RolePatient}, Allow},
		{"any of several roles", doctor, []session.Role{session.RolePatient, session.RoleDoctor}, Allow},
		{"non-admin on admin route", patient, []session.Role{session.RoleAdmin}, RedirectUnauthorized},
		{"doctor on admin route", doctor, []session.Role{session.RoleAdmin}, RedirectUnauthorized},
		{"admin on admin route", admin, []session.Role{session.RoleAdmin}, Allow},
		{"admin on patient route", admin, []session.Role{session.RolePatient}, RedirectUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.sess, "/somewhere", tt.required...)
			if d.Outcome != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, d.Outcome)
			}
			switch d.Outcome {
			case Wait, Allow:
				if d.Location != "" {
					t.Errorf("expected no redirect, got %q", d.Location)
				}
			case RedirectSignIn:
				if d.Location != "/login?next=%2Fsomewhere" {
					t.Errorf("unexpected sign-in location %q", d.Location)
				}
			case RedirectUnauthorized:
				if d.Location != UnauthorizedPath {
					t.Errorf("unexpected location %q", d.Location)
				}
			}
		})
	}
}

// Loading never redirects, whatever identity is attached.
func TestEvaluate_LoadingIgnoresIdentity(t *testing.T) {
	sess := session.Session(authenticatedAs(session.RolePatient))
	sess.Status = session.StatusLoading
	for _, roles := range [][]session.Role{nil, {session.RoleAdmin}, {session.RolePatient}} {
		if d := Evaluate(sess, "/dashboard", roles...); d.Outcome != Wait || d.Location != "" {
			t.Errorf("roles %v: expected wait without redirect, got %+v", roles, d)
		}
	}
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", LandingPath},
		{"/appointments/42", "/appointments/42"},
		{"/appointments?date=2026-05-01", "/appointments?date=2026-05-01"},
		{"//evil.example.com", LandingPath},
		{"/\\evil.example.com", LandingPath},
		{"https://evil.example.com/x", LandingPath},
		{"javascript:alert(1)", LandingPath},
		{"relative/path", LandingPath},
		{"/login", LandingPath},
	}
	for _, tt := range tests {
		if got := SafeNext(tt.in); got != tt.want {
			t.Errorf("SafeNext(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequiredRoles(t *testing.T) {
	roles, protected := RequiredRoles("/admin/users/7")
	if !protected || len(roles) != 1 || roles[0] != session.RoleAdmin {
		t.Errorf("expected admin route, got %v %v", roles, protected)
	}
	if _, protected := RequiredRoles("/administer"); protected {
		t.Error("prefix match must stop at a path boundary")
	}
	roles, protected = RequiredRoles("/messages")
	if !protected || len(roles) != 0 {
		t.Errorf("expected any-auth route, got %v %v", roles, protected)
	}
}
