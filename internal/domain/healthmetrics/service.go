package healthmetrics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/hms/hms/internal/platform/backend"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Recent returns the latest value per metric. Unknown types from the
// backend are dropped.
func (s *Service) Recent(ctx context.Context) (Summary, error) {
	raw, err := s.repo.Recent(ctx)
	if err != nil {
		return nil, err
	}
	out := make(Summary, len(raw))
	for t, v := range raw {
		if _, ok := specs[t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

// Readings returns the history of metric, newest first.
func (s *Service) Readings(ctx context.Context, metric MetricType) ([]*Reading, error) {
	if _, ok := specs[metric]; !ok {
		return nil, backend.Invalid("unknown metric: %s", metric)
	}
	items, err := s.repo.Readings(ctx, metric)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Reading{}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].RecordedAt.After(items[j].RecordedAt) })
	return items, nil
}

// Record validates a reading against the metric's plausible range and
// stores it in the metric's canonical unit.
func (s *Service) Record(ctx context.Context, metric MetricType, in *ReadingCreate) (*Reading, error) {
	spec, ok := specs[metric]
	if !ok {
		return nil, backend.Invalid("unknown metric: %s", metric)
	}
	if in.Unit != "" && in.Unit != spec.Unit {
		return nil, backend.Invalid("%s is measured in %s", metric, spec.Unit)
	}
	if math.IsNaN(in.Value) || in.Value < spec.Min || in.Value > spec.Max {
		return nil, backend.Invalid("%s must be between %g and %g %s", metric, spec.Min, spec.Max, spec.Unit)
	}
	now := s.now()
	if in.RecordedAt == nil {
		in.RecordedAt = &now
	} else if in.RecordedAt.After(now.Add(time.Minute)) {
		return nil, backend.Invalid("recorded_at cannot be in the future")
	}
	in.Unit = spec.Unit
	return s.repo.Record(ctx, metric, in)
}
