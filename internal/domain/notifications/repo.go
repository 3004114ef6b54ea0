package notifications

import (
	"context"
	"net/url"
	"strconv"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
)

type Repository interface {
	Inbox(ctx context.Context) (*Inbox, error)
	ByType(ctx context.Context, typ string) ([]*Notification, error)
	MarkRead(ctx context.Context, id int64) (*Notification, error)
}

type apiRepo struct {
	api backend.API
}

func NewAPIRepo(api backend.API) Repository {
	return &apiRepo{api: api}
}

func (r *apiRepo) Inbox(ctx context.Context) (*Inbox, error) {
	var out Inbox
	if err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/notifications", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *apiRepo) ByType(ctx context.Context, typ string) ([]*Notification, error) {
	var out []*Notification
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/notifications/type/"+url.PathEscape(typ), nil, &out)
	return out, err
}

func (r *apiRepo) MarkRead(ctx context.Context, id int64) (*Notification, error) {
	var out Notification
	path := "/api/notifications/" + strconv.FormatInt(id, 10) + "/read"
	if err := r.api.Put(ctx, auth.CredentialFromContext(ctx), path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
