package messaging

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Includes reports whether id is one of the two participants.
func (c *Conversation) Includes(id uuid.UUID) bool {
	return c.PatientID == id || c.DoctorID == id
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	Read           bool      `json:"read"`
}

// Preview is a message as listed on the dashboard.
type Preview struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

type conversationCreate struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
}

type messageCreate struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
}
