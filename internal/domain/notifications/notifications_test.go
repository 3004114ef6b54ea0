package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type mockRepo struct {
	items  []*Notification
	byType map[string][]*Notification
	marked []int64
}

func (m *mockRepo) Inbox(context.Context) (*Inbox, error) {
	return &Inbox{Notifications: m.items}, nil
}

func (m *mockRepo) ByType(_ context.Context, typ string) ([]*Notification, error) {
	return m.byType[typ], nil
}

func (m *mockRepo) MarkRead(_ context.Context, id int64) (*Notification, error) {
	m.marked = append(m.marked, id)
	return &Notification{ID: id, Read: true}, nil
}

func seeded() *mockRepo {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	alert := &Notification{ID: 3, Type: TypeHealthAlert, CreatedAt: now.Add(-time.Hour)}
	return &mockRepo{
		items: []*Notification{
			{ID: 1, Type: TypeAppointment, Read: true, CreatedAt: now.Add(-3 * time.Hour)},
			{ID: 2, Type: TypeMessage, CreatedAt: now},
			alert,
		},
		byType: map[string][]*Notification{TypeHealthAlert: {alert}},
	}
}

func TestList(t *testing.T) {
	svc := NewService(seeded())

	tests := []struct {
		name string
		q    Query
		want []int64
	}{
		{"all newest first", Query{}, []int64{2, 3, 1}},
		{"unread only", Query{UnreadOnly: true}, []int64{2, 3}},
		{"by type", Query{Type: "health_alert"}, []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox, err := svc.List(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if inbox.UnreadCount != 2 {
				t.Errorf("expected unread count 2, got %d", inbox.UnreadCount)
			}
			if len(inbox.Notifications) != len(tt.want) {
				t.Fatalf("expected %d items, got %d", len(tt.want), len(inbox.Notifications))
			}
			for i, id := range tt.want {
				if inbox.Notifications[i].ID != id {
					t.Errorf("position %d: expected %d, got %d", i, id, inbox.Notifications[i].ID)
				}
			}
		})
	}
}

func TestLatest(t *testing.T) {
	got, err := NewService(seeded()).Latest(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 {
		t.Errorf("unexpected latest %+v", got)
	}
}

func TestHandler_List(t *testing.T) {
	h := NewHandler(NewService(seeded()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/notifications?unread=true", nil)
	rec := httptest.NewRecorder()

	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var inbox Inbox
	if err := json.Unmarshal(rec.Body.Bytes(), &inbox); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(inbox.Notifications) != 2 || inbox.UnreadCount != 2 {
		t.Errorf("unexpected inbox %+v", inbox)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	repo := seeded()
	h := NewHandler(NewService(repo))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/notifications/2/read", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("2")
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.marked) != 1 || repo.marked[0] != 2 {
		t.Errorf("expected notification 2 marked, got %v", repo.marked)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/notifications/x/read", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("x")
	if he, ok := h.MarkRead(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Error("expected 400 for a non-numeric id")
	}
}
