package admin

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/session"
)

// SystemUser is a portal account as the admin API lists it.
type SystemUser struct {
	ID        uuid.UUID      `json:"id"`
	Email     string         `json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Roles     []session.Role `json:"roles"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
}

type RoleAssignment struct {
	Roles []session.Role `json:"roles"`
}

type StatusUpdate struct {
	Active bool `json:"active"`
}

// AssignableRoles is the closed set of roles an admin can grant.
var AssignableRoles = []session.Role{session.RolePatient, session.RoleDoctor, session.RoleAdmin}
