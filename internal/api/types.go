package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/session-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID       string `json:"patient_id,omitempty"` // admins only
	ProfessionalID  string `json:"professional_id"`
	Start           string `json:"start"` // RFC 3339
	DurationMinutes int    `json:"duration_minutes"`
	Modality        string `json:"modality,omitempty"`
}

type UpdateNotesRequest struct {
	Notes string `json:"notes"`
}

type AppointmentResponse struct {
	ID                    uuid.UUID  `json:"id"`
	PatientID             uuid.UUID  `json:"patient_id"`
	ProfessionalID        uuid.UUID  `json:"professional_id"`
	Start                 time.Time  `json:"start"`
	End                   time.Time  `json:"end"`
	DurationMinutes       int        `json:"duration_minutes"`
	Status                string     `json:"status"`
	Modality              string     `json:"modality"`
	ProfessionalSpecialty string     `json:"professional_specialty,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	ClosedAt              *time.Time `json:"closed_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy           *uuid.UUID `json:"cancelled_by,omitempty"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                    a.ID,
		PatientID:             a.PatientID,
		ProfessionalID:        a.ProfessionalID,
		Start:                 a.Start,
		End:                   a.End(),
		DurationMinutes:       a.DurationMinutes,
		Status:                string(a.Status),
		Modality:              string(a.Modality),
		ProfessionalSpecialty: a.ProfessionalSpecialty,
		Notes:                 a.Notes,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
		ClosedAt:              a.ClosedAt,
		CancelledAt:           a.CancelledAt,
		CancelledBy:           a.CancelledBy,
	}
}

type ListAppointmentsResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type ErrorResponse struct {
	Error            string   `json:"error"`
	Details          string   `json:"details,omitempty"`
	Field            string   `json:"field,omitempty"`
	Min              int      `json:"min,omitempty"`
	Max              int      `json:"max,omitempty"`
	Allowed          []string `json:"allowed,omitempty"`
	Role             string   `json:"role,omitempty"`
	Status           string   `json:"status,omitempty"`
	RemainingSeconds int64    `json:"remaining_seconds,omitempty"`
}
