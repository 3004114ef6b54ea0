// Package session holds the client's single authentication state: who is
// signed in, the credential proving it, and whether startup validation is
// still running.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a coarse authorization tag carried on an Identity.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

var knownRoles = map[Role]bool{
	RolePatient: true,
	RoleDoctor:  true,
	RoleAdmin:   true,
}

// ParseRole normalizes a role string. The second return is false for values
// outside the closed set.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, knownRoles[r]
}

// ParseRoles maps raw role strings, dropping unknown and duplicate values.
func ParseRoles(raw []string) []Role {
	seen := make(map[Role]bool, len(raw))
	roles := make([]Role, 0, len(raw))
	for _, s := range raw {
		r, ok := ParseRole(s)
		if !ok || seen[r] {
			continue
		}
		seen[r] = true
		roles = append(roles, r)
	}
	return roles
}

// Identity is the authenticated user record as issued by the identity service.
type Identity struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Roles        []Role    `json:"roles"`
	ProfileImage string    `json:"profile_image,omitempty"`
}

// HasAnyRole reports whether the identity carries at least one of roles.
func (i *Identity) HasAnyRole(roles ...Role) bool {
	for _, want := range roles {
		for _, has := range i.Roles {
			if has == want {
				return true
			}
		}
	}
	return false
}

// DisplayName joins the name parts, falling back to the email address.
func (i *Identity) DisplayName() string {
	name := strings.TrimSpace(i.FirstName + " " + i.LastName)
	if name == "" {
		return i.Email
	}
	return name
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Roles = append([]Role(nil), i.Roles...)
	return &cp
}

// Credential is the opaque bearer proving an Identity. Token is the identity
// service's session token; Bearer, when set, is a short-lived JWT minted from
// it for the backend API.
type Credential struct {
	Token     string    `json:"token"`
	Bearer    string    `json:"bearer,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the credential carries an expiry that has passed.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// BearerToken is the value sent in Authorization headers to the backend.
func (c *Credential) BearerToken() string {
	if c.Bearer != "" {
		return c.Bearer
	}
	return c.Token
}

func (c *Credential) clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Status is the lifecycle position of the Session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Session is a point-in-time snapshot. Identity and Credential are either
// both set (StatusAuthenticated) or both nil.
type Session struct {
	Identity   *Identity
	Credential *Credential
	Status     Status
	LastError  error
}

// Loading is true until startup validation has settled the session.
func (s Session) Loading() bool {
	return s.Status == StatusUninitialized || s.Status == StatusLoading
}

// Authenticated reports whether an identity is present.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

func (s Session) clone() Session {
	return Session{
		Identity:   s.Identity.clone(),
		Credential: s.Credential.clone(),
		Status:     s.Status,
		LastError:  s.LastError,
	}
}
