package scheduling

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
)

const (
	DefaultDurationMinutes = 30
	maxDurationMinutes     = 480
	maxReasonLength        = 500
	dateLayout             = "2006-01-02"
)

type Service struct {
	appointments AppointmentRepository
	doctors      DoctorRepository
	now          func() time.Time
}

func NewService(appointments AppointmentRepository, doctors DoctorRepository) *Service {
	return &Service{appointments: appointments, doctors: doctors, now: time.Now}
}

// -- Appointments --

// ListAppointments returns the caller's appointments matching f, earliest
// first. Patients only ever see their own, doctors the ones they hold.
func (s *Service) ListAppointments(ctx context.Context, caller *session.Identity, f AppointmentFilter) ([]*Appointment, error) {
	if caller == nil {
		return nil, backend.ErrUnauthorized
	}
	for _, st := range f.Status {
		if !validStatuses[st] {
			return nil, backend.Invalid("invalid appointment status: %s", st)
		}
	}
	switch {
	case isPatientOnly(caller):
		f.PatientID = &caller.ID
	case !caller.HasAnyRole(session.RoleAdmin):
		f.DoctorID = &caller.ID
	}

	items, err := s.appointments.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*Appointment, 0, len(items))
	for _, a := range items {
		if canView(caller, a) {
			out = append(out, a)
		}
	}
	sortByDate(out)
	return out, nil
}

// Upcoming returns at most limit future scheduled or confirmed
// appointments, soonest first.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]*Appointment, error) {
	items, err := s.appointments.Upcoming(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*Appointment, 0, len(items))
	for _, a := range items {
		if a.Status.Active() && a.AppointmentDate.After(now) {
			out = append(out, a)
		}
	}
	sortByDate(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) GetAppointment(ctx context.Context, caller *session.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(caller, a) {
		return nil, backend.ErrForbidden
	}
	return a, nil
}

// BookAppointment validates in and creates it. A patient always books for
// themselves.
func (s *Service) BookAppointment(ctx context.Context, caller *session.Identity, in *AppointmentCreate) (*Appointment, error) {
	if in.DoctorID == uuid.Nil {
		return nil, backend.Invalid("doctor_id is required")
	}
	if in.AppointmentDate.IsZero() {
		return nil, backend.Invalid("appointment_date is required")
	}
	if !in.AppointmentDate.After(s.now()) {
		return nil, backend.Invalid("appointment_date must be in the future")
	}
	if in.AppointmentType == "" {
		in.AppointmentType = TypeRegular
	}
	if !validTypes[in.AppointmentType] {
		return nil, backend.Invalid("invalid appointment type: %s", in.AppointmentType)
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return nil, backend.Invalid("reason is required")
	}
	if len(in.Reason) > maxReasonLength {
		return nil, backend.Invalid("reason must be at most %d characters", maxReasonLength)
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = DefaultDurationMinutes
	}
	if in.DurationMinutes < 0 || in.DurationMinutes > maxDurationMinutes {
		return nil, backend.Invalid("duration_minutes must be between 1 and %d", maxDurationMinutes)
	}

	if isPatientOnly(caller) {
		in.PatientID = caller.ID
	}
	if in.PatientID == uuid.Nil {
		return nil, backend.Invalid("patient_id is required")
	}
	return s.appointments.Create(ctx, in)
}

// UpdateAppointment applies u to an appointment the caller can see.
// Patients may only cancel; finished appointments cannot change.
func (s *Service) UpdateAppointment(ctx context.Context, caller *session.Identity, id uuid.UUID, u *AppointmentUpdate) (*Appointment, error) {
	if u.AppointmentType != nil && !validTypes[*u.AppointmentType] {
		return nil, backend.Invalid("invalid appointment type: %s", *u.AppointmentType)
	}
	if u.Status != nil && !validStatuses[*u.Status] {
		return nil, backend.Invalid("invalid appointment status: %s", *u.Status)
	}
	if u.DurationMinutes != nil && (*u.DurationMinutes <= 0 || *u.DurationMinutes > maxDurationMinutes) {
		return nil, backend.Invalid("duration_minutes must be between 1 and %d", maxDurationMinutes)
	}
	if u.AppointmentDate != nil && !u.AppointmentDate.After(s.now()) {
		return nil, backend.Invalid("appointment_date must be in the future")
	}
	if isPatientOnly(caller) && u.Status != nil && *u.Status != StatusCancelled {
		return nil, backend.ErrForbidden
	}

	current, err := s.GetAppointment(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Active() {
		return nil, backend.Invalid("a %s appointment cannot be changed", strings.ToLower(string(current.Status)))
	}
	return s.appointments.Update(ctx, id, u)
}

func (s *Service) CancelAppointment(ctx context.Context, caller *session.Identity, id uuid.UUID) error {
	current, err := s.GetAppointment(ctx, caller, id)
	if err != nil {
		return err
	}
	if !current.Status.Active() {
		return backend.Invalid("only scheduled or confirmed appointments can be cancelled")
	}
	return s.appointments.Cancel(ctx, id)
}

// -- Slots --

func (s *Service) AvailableSlots(ctx context.Context, q SlotQuery) ([]string, error) {
	if err := validateSlotQuery(q); err != nil {
		return nil, err
	}
	slots, err := s.appointments.Slots(ctx, q)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []string{}
	}
	return slots, nil
}

func (s *Service) CheckAvailability(ctx context.Context, q SlotQuery) (bool, error) {
	if err := validateSlotQuery(q); err != nil {
		return false, err
	}
	return s.appointments.Available(ctx, q)
}

func validateSlotQuery(q SlotQuery) error {
	if q.DoctorID == uuid.Nil {
		return backend.Invalid("doctor_id is required")
	}
	if _, err := time.Parse(dateLayout, q.Date); err != nil {
		return backend.Invalid("date must be formatted as YYYY-MM-DD")
	}
	if q.Duration < 0 || q.Duration > maxDurationMinutes {
		return backend.Invalid("duration must be between 1 and %d", maxDurationMinutes)
	}
	return nil
}

// -- Doctors --

// DoctorQuery filters the doctor directory. Search matches name or
// specialty, case-insensitively.
type DoctorQuery struct {
	Specialty     string
	Search        string
	AcceptingOnly bool
}

func (s *Service) ListDoctors(ctx context.Context, q DoctorQuery) ([]*Doctor, error) {
	all, err := s.doctors.List(ctx, strings.TrimSpace(q.Specialty))
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]*Doctor, 0, len(all))
	for _, d := range all {
		if q.AcceptingOnly && !d.AcceptingNewPatients {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(d.Name), search) &&
			!strings.Contains(strings.ToLower(d.Specialty), search) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// isPatientOnly is true for callers with no clinical or admin role.
func isPatientOnly(id *session.Identity) bool {
	return id != nil && !id.HasAnyRole(session.RoleDoctor, session.RoleAdmin)
}

func canView(caller *session.Identity, a *Appointment) bool {
	switch {
	case caller == nil:
		return false
	case caller.HasAnyRole(session.RoleAdmin):
		return true
	case caller.HasAnyRole(session.RoleDoctor) && a.DoctorID == caller.ID:
		return true
	default:
		return a.PatientID == caller.ID
	}
}

func sortByDate(items []*Appointment) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AppointmentDate.Before(items[j].AppointmentDate)
	})
}
