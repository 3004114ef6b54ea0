// Package dashboard assembles the signed-in landing view from the other
// portal views. Sections load concurrently and fail independently.
package dashboard

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hms/hms/internal/domain/healthmetrics"
	"github.com/hms/hms/internal/domain/messaging"
	"github.com/hms/hms/internal/domain/notifications"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
)

const sectionSize = 3

type Appointments interface {
	Upcoming(ctx context.Context, limit int) ([]*scheduling.Appointment, error)
}

type Notifications interface {
	Latest(ctx context.Context, limit int) ([]*notifications.Notification, error)
}

type Messages interface {
	Recent(ctx context.Context, limit int) ([]*messaging.Preview, error)
}

type Metrics interface {
	Recent(ctx context.Context) (healthmetrics.Summary, error)
}

// Sources are the views the dashboard reads from.
type Sources struct {
	Appointments  Appointments
	Notifications Notifications
	Messages      Messages
	Metrics       Metrics
}

// View is the assembled dashboard. A section that failed to load is left
// empty and its message is recorded in Errors under the section name.
type View struct {
	Greeting      string                        `json:"greeting"`
	Roles         []session.Role                `json:"roles"`
	Appointments  []*scheduling.Appointment     `json:"appointments"`
	Notifications []*notifications.Notification `json:"notifications"`
	Messages      []*messaging.Preview          `json:"messages"`
	HealthMetrics healthmetrics.Summary         `json:"health_metrics,omitempty"`
	Errors        map[string]string             `json:"errors,omitempty"`
}

type section struct {
	name string
	load func(context.Context) error
}

type Service struct {
	src    Sources
	logger zerolog.Logger
}

func NewService(src Sources, logger zerolog.Logger) *Service {
	return &Service{src: src, logger: logger.With().Str("component", "dashboard").Logger()}
}

// Build loads every section for caller. Health metrics load for patients
// only. An unauthorized answer from any section fails the whole view.
func (s *Service) Build(ctx context.Context, caller *session.Identity) (*View, error) {
	if caller == nil {
		return nil, backend.ErrUnauthorized
	}
	v := &View{
		Greeting:      "Welcome back, " + caller.DisplayName(),
		Roles:         caller.Roles,
		Appointments:  []*scheduling.Appointment{},
		Notifications: []*notifications.Notification{},
		Messages:      []*messaging.Preview{},
	}

	sections := []section{
		{"appointments", func(ctx context.Context) error {
			items, err := s.src.Appointments.Upcoming(ctx, sectionSize)
			if err == nil {
				v.Appointments = items
			}
			return err
		}},
		{"notifications", func(ctx context.Context) error {
			items, err := s.src.Notifications.Latest(ctx, sectionSize)
			if err == nil {
				v.Notifications = items
			}
			return err
		}},
		{"messages", func(ctx context.Context) error {
			items, err := s.src.Messages.Recent(ctx, sectionSize)
			if err == nil {
				v.Messages = items
			}
			return err
		}},
	}
	if caller.HasAnyRole(session.RolePatient) {
		sections = append(sections, section{"health_metrics", func(ctx context.Context) error {
			summary, err := s.src.Metrics.Recent(ctx)
			if err == nil {
				v.HealthMetrics = summary
			}
			return err
		}})
	}

	failures := make([]error, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	for i, sec := range sections {
		g.Go(func() error {
			err := sec.load(gctx)
			if errors.Is(err, backend.ErrUnauthorized) {
				return err
			}
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, err := range failures {
		if err == nil {
			continue
		}
		if v.Errors == nil {
			v.Errors = make(map[string]string)
		}
		s.logger.Warn().Err(err).Str("section", sections[i].name).Msg("dashboard section failed")
		v.Errors[sections[i].name] = sectionMessage(err)
	}
	return v, nil
}

func sectionMessage(err error) string {
	if he, ok := backend.HTTPError(err).(*echo.HTTPError); ok {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
	}
	return "Unavailable."
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/dashboard", h.Show)
}

func (h *Handler) Show(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.svc.Build(ctx, auth.IdentityFromContext(ctx))
	if err != nil {
		return backend.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}
