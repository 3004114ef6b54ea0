package messaging

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
)

const maxContentLength = 5000

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Conversations lists the conversations caller takes part in, newest
// first. Admins see all of them.
func (s *Service) Conversations(ctx context.Context, caller *session.Identity) ([]*Conversation, error) {
	all, err := s.repo.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Conversation, 0, len(all))
	for _, c := range all {
		if visible(caller, c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// StartConversation opens a conversation between a patient and a doctor,
// one of whom is caller. An existing conversation between the two is
// returned instead of creating a second one.
func (s *Service) StartConversation(ctx context.Context, caller *session.Identity, counterpart uuid.UUID) (*Conversation, error) {
	if counterpart == uuid.Nil {
		return nil, backend.Invalid("participant is required")
	}
	if caller == nil {
		return nil, backend.ErrUnauthorized
	}

	var patientID, doctorID uuid.UUID
	switch {
	case caller.HasAnyRole(session.RoleDoctor):
		patientID, doctorID = counterpart, caller.ID
	case caller.HasAnyRole(session.RolePatient):
		patientID, doctorID = caller.ID, counterpart
	default:
		return nil, backend.ErrForbidden
	}
	if patientID == doctorID {
		return nil, backend.Invalid("you cannot message yourself")
	}

	existing, err := s.repo.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		if c.PatientID == patientID && c.DoctorID == doctorID {
			return c, nil
		}
	}
	return s.repo.CreateConversation(ctx, patientID, doctorID)
}

// Messages returns a conversation's messages, oldest first.
func (s *Service) Messages(ctx context.Context, caller *session.Identity, conversationID uuid.UUID) ([]*Message, error) {
	if err := s.authorize(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	items, err := s.repo.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Message{}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].SentAt.Before(items[j].SentAt) })
	return items, nil
}

func (s *Service) Send(ctx context.Context, caller *session.Identity, conversationID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, backend.Invalid("message cannot be empty")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, backend.Invalid("message must be at most %d characters", maxContentLength)
	}
	if err := s.authorize(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	return s.repo.Send(ctx, conversationID, content)
}

// Recent returns up to limit message previews, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*Preview, error) {
	items, err := s.repo.Recent(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []*Preview{}
	}
	return items, nil
}

func (s *Service) authorize(ctx context.Context, caller *session.Identity, conversationID uuid.UUID) error {
	all, err := s.repo.Conversations(ctx)
	if err != nil {
		return err
	}
	for _, c := range all {
		if c.ID != conversationID {
			continue
		}
		if !visible(caller, c) {
			return backend.ErrForbidden
		}
		return nil
	}
	return backend.ErrNotFound
}

func visible(caller *session.Identity, c *Conversation) bool {
	if caller == nil {
		return false
	}
	return caller.HasAnyRole(session.RoleAdmin) || c.Includes(caller.ID)
}
