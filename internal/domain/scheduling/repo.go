package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
	Upcoming(ctx context.Context) ([]*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Create(ctx context.Context, a *AppointmentCreate) (*Appointment, error)
	Update(ctx context.Context, id uuid.UUID, u *AppointmentUpdate) (*Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Slots(ctx context.Context, q SlotQuery) ([]string, error)
	Available(ctx context.Context, q SlotQuery) (bool, error)
}

type DoctorRepository interface {
	List(ctx context.Context, specialty string) ([]*Doctor, error)
}
