package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// IsTerminal reports whether no transition leaves this status.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParticipantRole selects which side of a booking a conflict query runs against.
type ParticipantRole string

const (
	RolePatient      ParticipantRole = "patient"
	RoleProfessional ParticipantRole = "professional"
)

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

type Appointment struct {
	ID                    uuid.UUID
	PatientID             uuid.UUID
	ProfessionalID        uuid.UUID
	Start                 time.Time
	DurationMinutes       int
	Status                AppointmentStatus
	Modality              Modality
	ProfessionalSpecialty string
	Notes                 string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ClosedAt              *time.Time
	CancelledAt           *time.Time
	CancelledBy           *uuid.UUID
}

// End is always derived from Start and DurationMinutes.
func (a *Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a *Appointment) TimeRange() TimeRange {
	return TimeRange{Start: a.Start, End: a.End()}
}

// IsActive reports whether the appointment takes part in conflict checks.
func (a *Appointment) IsActive() bool {
	return a.Status == StatusScheduled
}

// ParticipantID returns the id of the given side of the booking.
func (a *Appointment) ParticipantID(role ParticipantRole) uuid.UUID {
	if role == RoleProfessional {
		return a.ProfessionalID
	}
	return a.PatientID
}

// Involves reports whether id is the patient or the professional of the booking.
func (a *Appointment) Involves(id uuid.UUID) bool {
	return a.PatientID == id || a.ProfessionalID == id
}

// BookingRequest carries the inputs of ProposeBooking.
type BookingRequest struct {
	PatientID       uuid.UUID
	ProfessionalID  uuid.UUID
	Start           time.Time
	DurationMinutes int
	Modality        Modality // empty when the caller did not choose one
}

// BusyBlock is one scheduled appointment projected onto a day view.
type BusyBlock struct {
	ID    uuid.UUID `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
