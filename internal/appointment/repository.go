package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrStatusChanged means a conditional status update lost a race with
	// another writer.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// Repository contains all storage interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindActive returns the participant's scheduled appointments whose time
	// range intersects window, ordered by start.
	FindActive(ctx context.Context, role ParticipantRole, participantID uuid.UUID, window TimeRange) ([]Appointment, error)

	// ListByParticipant returns every appointment of the participant on either
	// side, optionally filtered by status, ordered by start.
	ListByParticipant(ctx context.Context, participantID uuid.UUID, status *AppointmentStatus, limit, offset int) ([]Appointment, error)

	// CommitIfNonOverlapping is the scheduling guard. It atomically re-checks
	// both participants against committed state and inserts a, or returns a
	// *ConflictError with Source == SourceGuard and stores nothing.
	CommitIfNonOverlapping(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateState persists a status transition or a notes edit, but only if
	// the stored status still equals from.
	UpdateState(ctx context.Context, a *Appointment, from AppointmentStatus) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
