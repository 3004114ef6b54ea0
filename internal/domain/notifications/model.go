package notifications

import "time"

// Type values the backend assigns.
const (
	TypeHealthAlert = "HEALTH_ALERT"
	TypeAppointment = "APPOINTMENT"
	TypeMessage     = "MESSAGE"
)

type Notification struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// Inbox is the caller's notification list with its unread count.
type Inbox struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unreadCount"`
}
