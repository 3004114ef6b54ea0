package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/session"
)

// -- Mock Repositories --

type mockAppointmentRepo struct {
	appts     map[uuid.UUID]*Appointment
	upcoming  []*Appointment
	slots     []string
	available bool
	lastList  AppointmentFilter
	lastQuery SlotQuery
	created   *AppointmentCreate
	cancelled []uuid.UUID
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) add(a *Appointment) *Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.appts[a.ID] = a
	return a
}

func (m *mockAppointmentRepo) List(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	m.lastList = f
	var out []*Appointment
	for _, a := range m.appts {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *mockAppointmentRepo) Upcoming(context.Context) ([]*Appointment, error) {
	return m.upcoming, nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return a, nil
}

func (m *mockAppointmentRepo) Create(_ context.Context, in *AppointmentCreate) (*Appointment, error) {
	m.created = in
	return m.add(&Appointment{
		DoctorID:        in.DoctorID,
		PatientID:       in.PatientID,
		AppointmentDate: in.AppointmentDate,
		AppointmentType: in.AppointmentType,
		Reason:          in.Reason,
		Status:          StatusScheduled,
		DurationMinutes: in.DurationMinutes,
	}), nil
}

func (m *mockAppointmentRepo) Update(_ context.Context, id uuid.UUID, u *AppointmentUpdate) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Reason != nil {
		a.Reason = *u.Reason
	}
	return a, nil
}

func (m *mockAppointmentRepo) Cancel(_ context.Context, id uuid.UUID) error {
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockAppointmentRepo) Slots(_ context.Context, q SlotQuery) ([]string, error) {
	m.lastQuery = q
	return m.slots, nil
}

func (m *mockAppointmentRepo) Available(_ context.Context, q SlotQuery) (bool, error) {
	m.lastQuery = q
	return m.available, nil
}

type mockDoctorRepo struct {
	doctors       []*Doctor
	lastSpecialty string
}

func (m *mockDoctorRepo) List(_ context.Context, specialty string) ([]*Doctor, error) {
	m.lastSpecialty = specialty
	return m.doctors, nil
}

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockAppointmentRepo, *mockDoctorRepo) {
	appts := newMockAppointmentRepo()
	docs := &mockDoctorRepo{}
	svc := NewService(appts, docs)
	svc.now = func() time.Time { return fixedNow }
	return svc, appts, docs
}

func patient() *session.Identity {
	return &session.Identity{ID: uuid.New(), Roles: []session.Role{session.RolePatient}}
}

func doctor() *session.Identity {
	return &session.Identity{ID: uuid.New(), Roles: []session.Role{session.RoleDoctor}}
}

func admin() *session.Identity {
	return &session.Identity{ID: uuid.New(), Roles: []session.Role{session.RoleAdmin}}
}

func isInvalid(err error) bool {
	var ie *backend.InvalidError
	return errors.As(err, &ie)
}

// -- Appointment Tests --

func TestService_ListAppointments_PatientScoped(t *testing.T) {
	svc, repo, _ := newTestService()
	me := patient()
	repo.add(&Appointment{PatientID: me.ID, AppointmentDate: fixedNow.Add(48 * time.Hour)})
	repo.add(&Appointment{PatientID: me.ID, AppointmentDate: fixedNow.Add(24 * time.Hour)})
	repo.add(&Appointment{PatientID: uuid.New(), AppointmentDate: fixedNow.Add(time.Hour)})

	other := uuid.New()
	items, err := svc.ListAppointments(context.Background(), me, AppointmentFilter{PatientID: &other})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastList.PatientID == nil || *repo.lastList.PatientID != me.ID {
		t.Fatal("expected the patient filter forced to the caller")
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(items))
	}
	if !items[0].AppointmentDate.Before(items[1].AppointmentDate) {
		t.Error("expected earliest first")
	}
}

func TestService_ListAppointments_DoctorScoped(t *testing.T) {
	svc, repo, _ := newTestService()
	me := doctor()
	pid := uuid.New()
	repo.add(&Appointment{DoctorID: me.ID, PatientID: pid, AppointmentDate: fixedNow.Add(time.Hour)})
	repo.add(&Appointment{DoctorID: uuid.New(), PatientID: pid, AppointmentDate: fixedNow.Add(2 * time.Hour)})

	other := uuid.New()
	items, err := svc.ListAppointments(context.Background(), me, AppointmentFilter{DoctorID: &other, PatientID: &pid})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastList.DoctorID == nil || *repo.lastList.DoctorID != me.ID {
		t.Fatal("expected the doctor filter forced to the caller")
	}
	if repo.lastList.PatientID == nil || *repo.lastList.PatientID != pid {
		t.Error("expected the patient filter passed through for doctors")
	}
	if len(items) != 1 || items[0].DoctorID != me.ID {
		t.Fatalf("expected only the caller's appointment, got %+v", items)
	}
}

func TestService_ListAppointments_AdminUnscoped(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.add(&Appointment{DoctorID: uuid.New(), PatientID: uuid.New()})
	repo.add(&Appointment{DoctorID: uuid.New(), PatientID: uuid.New()})

	items, err := svc.ListAppointments(context.Background(), admin(), AppointmentFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastList.DoctorID != nil || repo.lastList.PatientID != nil {
		t.Errorf("admin filters must be untouched: %+v", repo.lastList)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 appointments, got %d", len(items))
	}
}

func TestService_ListAppointments_InvalidStatus(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.ListAppointments(context.Background(), patient(), AppointmentFilter{Status: []AppointmentStatus{"LATE"}})
	if !isInvalid(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestService_Upcoming(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.upcoming = []*Appointment{
		{Status: StatusConfirmed, AppointmentDate: fixedNow.Add(72 * time.Hour)},
		{Status: StatusScheduled, AppointmentDate: fixedNow.Add(24 * time.Hour)},
		{Status: StatusCancelled, AppointmentDate: fixedNow.Add(12 * time.Hour)},
		{Status: StatusScheduled, AppointmentDate: fixedNow.Add(-time.Hour)},
		{Status: StatusScheduled, AppointmentDate: fixedNow.Add(96 * time.Hour)},
	}

	items, err := svc.Upcoming(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(items))
	}
	if !items[0].AppointmentDate.Equal(fixedNow.Add(24*time.Hour)) || !items[1].AppointmentDate.Equal(fixedNow.Add(72*time.Hour)) {
		t.Errorf("unexpected order %v, %v", items[0].AppointmentDate, items[1].AppointmentDate)
	}
}

func TestService_GetAppointment_Access(t *testing.T) {
	svc, repo, _ := newTestService()
	me, doc := patient(), doctor()
	mine := repo.add(&Appointment{PatientID: me.ID, DoctorID: doc.ID, Status: StatusScheduled})
	theirs := repo.add(&Appointment{PatientID: uuid.New(), DoctorID: uuid.New(), Status: StatusScheduled})
	ctx := context.Background()

	if _, err := svc.GetAppointment(ctx, me, mine.ID); err != nil {
		t.Errorf("patient should see own appointment: %v", err)
	}
	if _, err := svc.GetAppointment(ctx, doc, mine.ID); err != nil {
		t.Errorf("doctor should see their appointment: %v", err)
	}
	if _, err := svc.GetAppointment(ctx, me, theirs.ID); !errors.Is(err, backend.ErrForbidden) {
		t.Errorf("expected forbidden for another patient's appointment, got %v", err)
	}
	if _, err := svc.GetAppointment(ctx, doc, theirs.ID); !errors.Is(err, backend.ErrForbidden) {
		t.Errorf("expected forbidden for another doctor's appointment, got %v", err)
	}
	if _, err := svc.GetAppointment(ctx, admin(), theirs.ID); err != nil {
		t.Errorf("admin should see any appointment: %v", err)
	}
	if _, err := svc.GetAppointment(ctx, me, uuid.New()); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func validBooking() *AppointmentCreate {
	return &AppointmentCreate{
		DoctorID:        uuid.New(),
		AppointmentDate: fixedNow.Add(24 * time.Hour),
		Reason:          "  Annual checkup ",
	}
}

func TestService_BookAppointment_PatientDefaults(t *testing.T) {
	svc, repo, _ := newTestService()
	me := patient()

	in := validBooking()
	in.PatientID = uuid.New()
	a, err := svc.BookAppointment(context.Background(), me, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PatientID != me.ID {
		t.Error("patient must book for themselves")
	}
	if repo.created.AppointmentType != TypeRegular || repo.created.DurationMinutes != DefaultDurationMinutes {
		t.Errorf("expected defaults, got %s/%d", repo.created.AppointmentType, repo.created.DurationMinutes)
	}
	if repo.created.Reason != "Annual checkup" {
		t.Errorf("expected trimmed reason, got %q", repo.created.Reason)
	}
}

func TestService_BookAppointment_Validation(t *testing.T) {
	tests := []struct {
		name   string
		caller *session.Identity
		mutate func(*AppointmentCreate)
	}{
		{"missing doctor", patient(), func(a *AppointmentCreate) { a.DoctorID = uuid.Nil }},
		{"missing date", patient(), func(a *AppointmentCreate) { a.AppointmentDate = time.Time{} }},
		{"past date", patient(), func(a *AppointmentCreate) { a.AppointmentDate = fixedNow.Add(-time.Minute) }},
		{"bad type", patient(), func(a *AppointmentCreate) { a.AppointmentType = "ROUTINE" }},
		{"blank reason", patient(), func(a *AppointmentCreate) { a.Reason = "   " }},
		{"negative duration", patient(), func(a *AppointmentCreate) { a.DurationMinutes = -5 }},
		{"too long", patient(), func(a *AppointmentCreate) { a.DurationMinutes = 600 }},
		{"doctor without patient", doctor(), func(a *AppointmentCreate) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			in := validBooking()
			tt.mutate(in)
			if _, err := svc.BookAppointment(context.Background(), tt.caller, in); !isInvalid(err) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if repo.created != nil {
				t.Error("backend must not be called")
			}
		})
	}
}

func TestService_UpdateAppointment(t *testing.T) {
	svc, repo, _ := newTestService()
	me := patient()
	a := repo.add(&Appointment{PatientID: me.ID, Status: StatusScheduled})
	ctx := context.Background()

	confirmed := StatusConfirmed
	if _, err := svc.UpdateAppointment(ctx, me, a.ID, &AppointmentUpdate{Status: &confirmed}); !errors.Is(err, backend.ErrForbidden) {
		t.Errorf("patient must not confirm, got %v", err)
	}

	reason := "Follow-up on results"
	got, err := svc.UpdateAppointment(ctx, me, a.ID, &AppointmentUpdate{Reason: &reason})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reason != reason {
		t.Errorf("expected reason updated, got %q", got.Reason)
	}

	bad := AppointmentStatus("LATE")
	if _, err := svc.UpdateAppointment(ctx, admin(), a.ID, &AppointmentUpdate{Status: &bad}); !isInvalid(err) {
		t.Errorf("expected invalid status, got %v", err)
	}

	done := repo.add(&Appointment{PatientID: me.ID, Status: StatusCompleted})
	if _, err := svc.UpdateAppointment(ctx, me, done.ID, &AppointmentUpdate{Reason: &reason}); !isInvalid(err) {
		t.Errorf("completed appointment must not change, got %v", err)
	}
}

func TestService_CancelAppointment(t *testing.T) {
	svc, repo, _ := newTestService()
	me := patient()
	a := repo.add(&Appointment{PatientID: me.ID, Status: StatusConfirmed})
	ctx := context.Background()

	if err := svc.CancelAppointment(ctx, me, a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.cancelled) != 1 || repo.cancelled[0] != a.ID {
		t.Errorf("expected cancel sent, got %v", repo.cancelled)
	}

	old := repo.add(&Appointment{PatientID: me.ID, Status: StatusCancelled})
	if err := svc.CancelAppointment(ctx, me, old.ID); !isInvalid(err) {
		t.Errorf("expected invalid for cancelled appointment, got %v", err)
	}

	other := repo.add(&Appointment{PatientID: uuid.New(), Status: StatusScheduled})
	if err := svc.CancelAppointment(ctx, me, other.ID); !errors.Is(err, backend.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

// -- Slot Tests --

func TestService_AvailableSlots(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	slots, err := svc.AvailableSlots(ctx, SlotQuery{DoctorID: uuid.New(), Date: "2026-03-04"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots == nil {
		t.Error("expected an empty list, not nil")
	}

	repo.slots = []string{"09:00", "09:30"}
	slots, _ = svc.AvailableSlots(ctx, SlotQuery{DoctorID: uuid.New(), Date: "2026-03-04", Duration: 30})
	if len(slots) != 2 || repo.lastQuery.Duration != 30 {
		t.Errorf("unexpected slots %v", slots)
	}

	for _, q := range []SlotQuery{
		{Date: "2026-03-04"},
		{DoctorID: uuid.New(), Date: "04/03/2026"},
		{DoctorID: uuid.New(), Date: "2026-03-04", Duration: -1},
	} {
		if _, err := svc.AvailableSlots(ctx, q); !isInvalid(err) {
			t.Errorf("%+v: expected invalid input, got %v", q, err)
		}
	}
}

func TestService_CheckAvailability(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.available = true
	ok, err := svc.CheckAvailability(context.Background(), SlotQuery{DoctorID: uuid.New(), Date: "2026-03-04"})
	if err != nil || !ok {
		t.Fatalf("expected available, got %v %v", ok, err)
	}
}

// -- Doctor Tests --

func TestService_ListDoctors(t *testing.T) {
	svc, _, docs := newTestService()
	docs.doctors = []*Doctor{
		{Name: "Dr. Sarah Johnson", Specialty: "Cardiology", AcceptingNewPatients: true},
		{Name: "Dr. John Smith", Specialty: "General Practitioner", AcceptingNewPatients: true},
		{Name: "Dr. Emily Chen", Specialty: "Pediatrics"},
	}
	ctx := context.Background()

	all, _ := svc.ListDoctors(ctx, DoctorQuery{Specialty: " Cardiology "})
	if docs.lastSpecialty != "Cardiology" {
		t.Errorf("expected trimmed specialty, got %q", docs.lastSpecialty)
	}
	if len(all) != 3 || all[0].Name != "Dr. Emily Chen" {
		t.Errorf("expected all doctors sorted by name, got %d", len(all))
	}

	accepting, _ := svc.ListDoctors(ctx, DoctorQuery{AcceptingOnly: true})
	if len(accepting) != 2 {
		t.Errorf("expected 2 accepting doctors, got %d", len(accepting))
	}

	found, _ := svc.ListDoctors(ctx, DoctorQuery{Search: "cardio"})
	if len(found) != 1 || found[0].Name != "Dr. Sarah Johnson" {
		t.Errorf("unexpected search result %v", found)
	}
}
