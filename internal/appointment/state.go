package appointment

import (
	"time"

	"github.com/google/uuid"
)

// DefaultGracePeriod is how long after its start an appointment must wait
// before the professional may close it.
const DefaultGracePeriod = 10 * time.Minute

type ActorRole string

const (
	ActorPatient      ActorRole = "patient"
	ActorProfessional ActorRole = "professional"
	ActorOrganization ActorRole = "organization"
	ActorAdmin        ActorRole = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role ActorRole
}

func (a Actor) IsAdmin() bool { return a.Role == ActorAdmin }

// canRead reports whether actor may see the appointment.
func (a *Appointment) canRead(actor Actor) bool {
	return actor.IsAdmin() || a.Involves(actor.ID)
}

// Close moves scheduled -> completed. Only the assigned professional may close,
// and only once now >= Start + grace.
func (a *Appointment) Close(actor Actor, now time.Time, grace time.Duration) error {
	if actor.ID != a.ProfessionalID {
		return ErrNotPermitted
	}
	if a.Status != StatusScheduled {
		return &StateError{Current: a.Status}
	}
	opensAt := a.Start.Add(grace)
	if now.Before(opensAt) {
		return &StateError{Current: a.Status, Remaining: opensAt.Sub(now)}
	}

	a.Status = StatusCompleted
	a.ClosedAt = &now
	a.UpdatedAt = now
	return nil
}

// Cancel moves scheduled -> cancelled regardless of timing.
func (a *Appointment) Cancel(actor Actor, now time.Time) error {
	if !a.canRead(actor) {
		return ErrNotPermitted
	}
	if a.Status != StatusScheduled {
		return &StateError{Current: a.Status}
	}

	by := actor.ID
	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.CancelledBy = &by
	a.UpdatedAt = now
	return nil
}

// SetNotes replaces the clinical notes. Notes belong to the professional and
// are only writable after the session was completed.
func (a *Appointment) SetNotes(actor Actor, notes string, now time.Time) error {
	if actor.ID != a.ProfessionalID {
		return ErrNotPermitted
	}
	if a.Status != StatusCompleted {
		return &StateError{Current: a.Status}
	}
	a.Notes = notes
	a.UpdatedAt = now
	return nil
}
