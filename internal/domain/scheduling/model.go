package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentType string

const (
	TypeRegular   AppointmentType = "REGULAR"
	TypeFollowUp  AppointmentType = "FOLLOW_UP"
	TypeEmergency AppointmentType = "EMERGENCY"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
)

var validTypes = map[AppointmentType]bool{
	TypeRegular: true, TypeFollowUp: true, TypeEmergency: true,
}

var validStatuses = map[AppointmentStatus]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusCompleted: true,
	StatusCancelled: true, StatusNoShow: true,
}

// Active reports whether the appointment is still going to happen.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Appointment is the backend's appointment record.
type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	DoctorID        uuid.UUID         `json:"doctor_id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	AppointmentDate time.Time         `json:"appointment_date"`
	AppointmentType AppointmentType   `json:"appointment_type"`
	Reason          string            `json:"reason"`
	Notes           *string           `json:"notes,omitempty"`
	Status          AppointmentStatus `json:"status"`
	DurationMinutes int               `json:"duration_minutes"`
}

// AppointmentCreate is the booking request. Status is assigned by the
// backend.
type AppointmentCreate struct {
	DoctorID        uuid.UUID       `json:"doctor_id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	AppointmentDate time.Time       `json:"appointment_date"`
	AppointmentType AppointmentType `json:"appointment_type"`
	Reason          string          `json:"reason"`
	Notes           *string         `json:"notes,omitempty"`
	DurationMinutes int             `json:"duration_minutes"`
}

// AppointmentUpdate carries only the fields being changed.
type AppointmentUpdate struct {
	AppointmentDate *time.Time         `json:"appointment_date,omitempty"`
	AppointmentType *AppointmentType   `json:"appointment_type,omitempty"`
	Reason          *string            `json:"reason,omitempty"`
	DurationMinutes *int               `json:"duration_minutes,omitempty"`
	Notes           *string            `json:"notes,omitempty"`
	Status          *AppointmentStatus `json:"status,omitempty"`
}

// AppointmentFilter narrows an appointment listing. Zero values are not sent.
type AppointmentFilter struct {
	StartDate string
	EndDate   string
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    []AppointmentStatus
}

// SlotQuery asks for a doctor's free time on one day.
type SlotQuery struct {
	DoctorID uuid.UUID
	Date     string // YYYY-MM-DD
	Duration int    // minutes, zero for the backend default
}

type Doctor struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Specialty            string    `json:"specialty"`
	Department           *string   `json:"department,omitempty"`
	Hospital             *string   `json:"hospital,omitempty"`
	Image                *string   `json:"image,omitempty"`
	AcceptingNewPatients bool      `json:"accepting_new_patients"`
}
