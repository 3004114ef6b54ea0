package notifications

import (
	"context"
	"sort"
	"strings"

	"github.com/hms/hms/internal/platform/backend"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Query narrows the inbox. Zero values match everything.
type Query struct {
	UnreadOnly bool
	Type       string
}

// List returns the caller's notifications newest first. The unread count
// always covers the whole inbox.
func (s *Service) List(ctx context.Context, q Query) (*Inbox, error) {
	inbox, err := s.repo.Inbox(ctx)
	if err != nil {
		return nil, err
	}
	unread := 0
	for _, n := range inbox.Notifications {
		if !n.Read {
			unread++
		}
	}

	items := inbox.Notifications
	if typ := strings.ToUpper(strings.TrimSpace(q.Type)); typ != "" {
		if items, err = s.repo.ByType(ctx, typ); err != nil {
			return nil, err
		}
	}

	out := make([]*Notification, 0, len(items))
	for _, n := range items {
		if q.UnreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return &Inbox{Notifications: out, UnreadCount: unread}, nil
}

// Latest returns up to limit notifications for the dashboard.
func (s *Service) Latest(ctx context.Context, limit int) ([]*Notification, error) {
	inbox, err := s.List(ctx, Query{})
	if err != nil {
		return nil, err
	}
	items := inbox.Notifications
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Service) MarkRead(ctx context.Context, id int64) (*Notification, error) {
	if id <= 0 {
		return nil, backend.Invalid("invalid notification id")
	}
	return s.repo.MarkRead(ctx, id)
}
