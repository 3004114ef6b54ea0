package admin

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
)

// SystemUserRepository reads and updates portal accounts.
type SystemUserRepository interface {
	List(ctx context.Context) ([]*SystemUser, error)
	GetByID(ctx context.Context, id uuid.UUID) (*SystemUser, error)
	SetRoles(ctx context.Context, id uuid.UUID, in *RoleAssignment) (*SystemUser, error)
	SetStatus(ctx context.Context, id uuid.UUID, in *StatusUpdate) (*SystemUser, error)
}

type apiRepo struct {
	api backend.API
}

func NewAPIRepo(api backend.API) SystemUserRepository {
	return &apiRepo{api: api}
}

func (r *apiRepo) List(ctx context.Context) ([]*SystemUser, error) {
	var out []*SystemUser
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/admin/users", nil, &out)
	return out, err
}

func (r *apiRepo) GetByID(ctx context.Context, id uuid.UUID) (*SystemUser, error) {
	var out SystemUser
	if err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/admin/users/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *apiRepo) SetRoles(ctx context.Context, id uuid.UUID, in *RoleAssignment) (*SystemUser, error) {
	return r.put(ctx, "/api/admin/users/"+id.String()+"/roles", in)
}

func (r *apiRepo) SetStatus(ctx context.Context, id uuid.UUID, in *StatusUpdate) (*SystemUser, error) {
	return r.put(ctx, "/api/admin/users/"+id.String()+"/status", in)
}

func (r *apiRepo) put(ctx context.Context, path string, in any) (*SystemUser, error) {
	var out SystemUser
	if err := r.api.Put(ctx, auth.CredentialFromContext(ctx), path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
