package messaging

import (
	"context"
	"net/url"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
)

type Repository interface {
	Conversations(ctx context.Context) ([]*Conversation, error)
	CreateConversation(ctx context.Context, patientID, doctorID uuid.UUID) (*Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
	Send(ctx context.Context, conversationID uuid.UUID, content string) (*Message, error)
	Recent(ctx context.Context) ([]*Preview, error)
}

type apiRepo struct {
	api backend.API
}

// NewAPIRepo returns a Repository backed by the REST API.
func NewAPIRepo(api backend.API) Repository {
	return &apiRepo{api: api}
}

func (r *apiRepo) Conversations(ctx context.Context) ([]*Conversation, error) {
	var out []*Conversation
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/messaging/conversations", nil, &out)
	return out, err
}

func (r *apiRepo) CreateConversation(ctx context.Context, patientID, doctorID uuid.UUID) (*Conversation, error) {
	var out Conversation
	in := conversationCreate{PatientID: patientID, DoctorID: doctorID}
	if err := r.api.Post(ctx, auth.CredentialFromContext(ctx), "/api/messaging/conversations", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *apiRepo) Messages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	var out []*Message
	q := url.Values{"conversation_id": {conversationID.String()}}
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/messaging/messages", q, &out)
	return out, err
}

func (r *apiRepo) Send(ctx context.Context, conversationID uuid.UUID, content string) (*Message, error) {
	var out Message
	in := messageCreate{ConversationID: conversationID, Content: content}
	if err := r.api.Post(ctx, auth.CredentialFromContext(ctx), "/api/messaging/messages", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *apiRepo) Recent(ctx context.Context) ([]*Preview, error) {
	var out []*Preview
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/messages/recent", nil, &out)
	return out, err
}
