package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
)

type mockUserRepo struct {
	users     map[uuid.UUID]*SystemUser
	lastRoles *RoleAssignment
}

func newMockUserRepo(users ...*SystemUser) *mockUserRepo {
	m := &mockUserRepo{users: make(map[uuid.UUID]*SystemUser)}
	for _, u := range users {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) List(context.Context) ([]*SystemUser, error) {
	out := make([]*SystemUser, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*SystemUser, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) SetRoles(_ context.Context, id uuid.UUID, in *RoleAssignment) (*SystemUser, error) {
	m.lastRoles = in
	u, ok := m.users[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	u.Roles = in.Roles
	return u, nil
}

func (m *mockUserRepo) SetStatus(_ context.Context, id uuid.UUID, in *StatusUpdate) (*SystemUser, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	u.Active = in.Active
	return u, nil
}

func isInvalid(err error) bool {
	var ie *backend.InvalidError
	return errors.As(err, &ie)
}

func TestListSystemUsers(t *testing.T) {
	repo := newMockUserRepo(
		&SystemUser{Email: "b@example.com", FirstName: "Grace", LastName: "Hopper", Roles: []session.Role{session.RoleDoctor}},
		&SystemUser{Email: "a@example.com", FirstName: "Alan", LastName: "Turing", Roles: []session.Role{session.RolePatient}},
		&SystemUser{Email: "c@example.com", FirstName: "Ada", LastName: "Byron", Roles: []session.Role{session.RolePatient, session.RoleAdmin}},
	)
	svc := NewService(repo)

	tests := []struct {
		name string
		q    UserQuery
		want []string
	}{
		{"all sorted by email", UserQuery{}, []string{"a@example.com", "b@example.com", "c@example.com"}},
		{"by role", UserQuery{Role: session.RolePatient}, []string{"a@example.com", "c@example.com"}},
		{"search name", UserQuery{Search: "hopper"}, []string{"b@example.com"}},
		{"search email", UserQuery{Search: "C@EXAMPLE"}, []string{"c@example.com"}},
		{"no match", UserQuery{Search: "nobody"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ListSystemUsers(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d users, got %d", len(tt.want), len(got))
			}
			for i, email := range tt.want {
				if got[i].Email != email {
					t.Errorf("position %d: expected %s, got %s", i, email, got[i].Email)
				}
			}
		})
	}
}

func TestSetRoles(t *testing.T) {
	target := &SystemUser{Email: "a@example.com", Roles: []session.Role{session.RolePatient}}
	repo := newMockUserRepo(target)
	svc := NewService(repo)
	me := &session.Identity{ID: uuid.New(), Roles: []session.Role{session.RoleAdmin}}

	u, err := svc.SetRoles(context.Background(), me, target.ID, []session.Role{"doctor", "DOCTOR", " patient "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Roles) != 2 || u.Roles[0] != session.RoleDoctor || u.Roles[1] != session.RolePatient {
		t.Errorf("expected normalized roles, got %v", u.Roles)
	}
}

func TestSetRoles_Rejected(t *testing.T) {
	me := &session.Identity{ID: uuid.New(), Roles: []session.Role{session.RoleAdmin}}
	repo := newMockUserRepo(&SystemUser{ID: me.ID, Roles: me.Roles})
	svc := NewService(repo)

	tests := []struct {
		name  string
		id    uuid.UUID
		roles []session.Role
	}{
		{"empty", uuid.New(), nil},
		{"unknown role", uuid.New(), []session.Role{"NURSE"}},
		{"own admin role", me.ID, []session.Role{session.RoleDoctor}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SetRoles(context.Background(), me, tt.id, tt.roles); !isInvalid(err) {
				t.Errorf("expected invalid, got %v", err)
			}
		})
	}
	if repo.lastRoles != nil {
		t.Error("expected no backend call")
	}

	if _, err := svc.SetRoles(context.Background(), me, me.ID, []session.Role{session.RoleAdmin, session.RoleDoctor}); err != nil {
		t.Errorf("keeping ADMIN should be allowed: %v", err)
	}
}

func TestSetActive(t *testing.T) {
	target := &SystemUser{Active: true}
	me := &session.Identity{ID: uuid.New(), Roles: []session.Role{session.RoleAdmin}}
	svc := NewService(newMockUserRepo(target))

	u, err := svc.SetActive(context.Background(), me, target.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Active {
		t.Error("expected the account disabled")
	}
	if _, err := svc.SetActive(context.Background(), me, me.ID, false); !isInvalid(err) {
		t.Errorf("expected invalid when disabling self, got %v", err)
	}
}
