package scheduling

import (
	"context"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
)

// -- Appointment Repository --

type appointmentAPI struct {
	api backend.API
}

// NewAppointmentAPI returns an AppointmentRepository backed by the REST API.
// Requests run as the credential on ctx.
func NewAppointmentAPI(api backend.API) AppointmentRepository {
	return &appointmentAPI{api: api}
}

func (r *appointmentAPI) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	q := url.Values{}
	if f.StartDate != "" {
		q.Set("start_date", f.StartDate)
	}
	if f.EndDate != "" {
		q.Set("end_date", f.EndDate)
	}
	if f.DoctorID != nil {
		q.Set("doctor_id", f.DoctorID.String())
	}
	if f.PatientID != nil {
		q.Set("patient_id", f.PatientID.String())
	}
	for _, s := range f.Status {
		q.Add("status", string(s))
	}

	var out []*Appointment
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/appointments", q, &out)
	return out, err
}

func (r *appointmentAPI) Upcoming(ctx context.Context) ([]*Appointment, error) {
	var out []*Appointment
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/appointments/upcoming", nil, &out)
	return out, err
}

func (r *appointmentAPI) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	if err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/appointments/"+id.String(), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentAPI) Create(ctx context.Context, in *AppointmentCreate) (*Appointment, error) {
	var a Appointment
	if err := r.api.Post(ctx, auth.CredentialFromContext(ctx), "/api/appointments", in, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentAPI) Update(ctx context.Context, id uuid.UUID, u *AppointmentUpdate) (*Appointment, error) {
	var a Appointment
	if err := r.api.Put(ctx, auth.CredentialFromContext(ctx), "/api/appointments/"+id.String(), u, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentAPI) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.api.Delete(ctx, auth.CredentialFromContext(ctx), "/api/appointments/"+id.String())
}

func (r *appointmentAPI) Slots(ctx context.Context, q SlotQuery) ([]string, error) {
	var out []string
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/appointments/slots", slotValues(q), &out)
	return out, err
}

func (r *appointmentAPI) Available(ctx context.Context, q SlotQuery) (bool, error) {
	var ok bool
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/appointments/availability", slotValues(q), &ok)
	return ok, err
}

func slotValues(q SlotQuery) url.Values {
	v := url.Values{"doctor_id": {q.DoctorID.String()}, "date": {q.Date}}
	if q.Duration > 0 {
		v.Set("duration", strconv.Itoa(q.Duration))
	}
	return v
}

// -- Doctor Repository --

type doctorAPI struct {
	api backend.API
}

func NewDoctorAPI(api backend.API) DoctorRepository {
	return &doctorAPI{api: api}
}

func (r *doctorAPI) List(ctx context.Context, specialty string) ([]*Doctor, error) {
	var q url.Values
	if specialty != "" {
		q = url.Values{"specialty": {specialty}}
	}
	var out []*Doctor
	err := r.api.Get(ctx, auth.CredentialFromContext(ctx), "/api/doctors", q, &out)
	return out, err
}
