package admin

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
)

type Service struct {
	users SystemUserRepository
}

func NewService(users SystemUserRepository) *Service {
	return &Service{users: users}
}

// UserQuery filters the user list. Search matches name or email, case
// insensitively.
type UserQuery struct {
	Search string
	Role   session.Role
}

func (s *Service) ListSystemUsers(ctx context.Context, q UserQuery) ([]*SystemUser, error) {
	all, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]*SystemUser, 0, len(all))
	for _, u := range all {
		if q.Role != "" && !slices.Contains(u.Roles, q.Role) {
			continue
		}
		if needle != "" && !matches(u, needle) {
			continue
		}
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Service) GetSystemUser(ctx context.Context, id uuid.UUID) (*SystemUser, error) {
	return s.users.GetByID(ctx, id)
}

// SetRoles replaces a user's roles. Roles must come from AssignableRoles
// and an admin cannot drop their own ADMIN role.
func (s *Service) SetRoles(ctx context.Context, caller *session.Identity, id uuid.UUID, roles []session.Role) (*SystemUser, error) {
	normalized, err := normalizeRoles(roles)
	if err != nil {
		return nil, err
	}
	if caller != nil && caller.ID == id && !slices.Contains(normalized, session.RoleAdmin) {
		return nil, backend.Invalid("you cannot remove your own ADMIN role")
	}
	return s.users.SetRoles(ctx, id, &RoleAssignment{Roles: normalized})
}

// SetActive enables or disables an account. Admins cannot disable
// themselves.
func (s *Service) SetActive(ctx context.Context, caller *session.Identity, id uuid.UUID, active bool) (*SystemUser, error) {
	if !active && caller != nil && caller.ID == id {
		return nil, backend.Invalid("you cannot disable your own account")
	}
	return s.users.SetStatus(ctx, id, &StatusUpdate{Active: active})
}

func normalizeRoles(roles []session.Role) ([]session.Role, error) {
	if len(roles) == 0 {
		return nil, backend.Invalid("at least one role is required")
	}
	out := make([]session.Role, 0, len(roles))
	for _, r := range roles {
		r = session.Role(strings.ToUpper(strings.TrimSpace(string(r))))
		if !slices.Contains(AssignableRoles, r) {
			return nil, backend.Invalid("unknown role %q", r)
		}
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matches(u *SystemUser, needle string) bool {
	for _, s := range []string{u.Email, u.FirstName + " " + u.LastName} {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
