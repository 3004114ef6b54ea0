package healthmetrics

import (
	"context"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
)

type Repository interface {
	Recent(ctx context.Context) (Summary, error)
	Readings(ctx context.Context, metric MetricType) ([]*Reading, error)
	Record(ctx context.Context, metric MetricType, in *ReadingCreate) (*Reading, error)
}

type apiRepo struct {
	api backend.API
}

// NewAPIRepo returns a Repository backed by the REST API.
func NewAPIRepo(api backend.API) Repository {
	return &apiRepo{api: api}
}

func (r *apiRepo) Recent(ctx context.Context) (Summary, error) {
	var out Summary
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/health-metrics/recent", nil, &out)
	return out, err
}

func (r *apiRepo) Readings(ctx context.Context, metric MetricType) ([]*Reading, error) {
	var out []*Reading
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/health-metrics/"+string(metric), nil, &out)
	return out, err
}

func (r *apiRepo) Record(ctx context.Context, metric MetricType, in *ReadingCreate) (*Reading, error) {
	var out Reading
	if err := r.api.Post(ctx, auth.CredentialFromContext(ctx), "/api/health-metrics/"+string(metric), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
