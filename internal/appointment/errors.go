package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrConflict                = errors.New("slot unavailable")
	ErrInvalidState            = errors.New("invalid status transition")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrNotPermitted            = errors.New("actor is not permitted to perform this action")
)

// ValidationError is a client-correctable rejection of a booking input.
type ValidationError struct {
	Field   string
	Reason  string
	Min     int
	Max     int
	Allowed []string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Max > 0:
		return fmt.Sprintf("%s: %s (allowed range %d-%d)", e.Field, e.Reason, e.Min, e.Max)
	case len(e.Allowed) > 0:
		return fmt.Sprintf("%s: %s (allowed: %s)", e.Field, e.Reason, strings.Join(e.Allowed, ", "))
	default:
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictSource tells whether a conflict was seen by the pre-check or by the
// commit-time guard. Callers get the same answer either way.
type ConflictSource string

const (
	SourcePrecheck ConflictSource = "precheck"
	SourceGuard    ConflictSource = "guard"
)

type ConflictError struct {
	Role          ParticipantRole
	ConflictingID uuid.UUID // uuid.Nil when the storage engine does not report it
	Source        ConflictSource
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot unavailable: %s already booked in this interval", e.Role)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type StateError struct {
	Current   AppointmentStatus
	Remaining time.Duration // wait left before an early close is allowed
}

func (e *StateError) Error() string {
	if e.Remaining > 0 {
		return fmt.Sprintf("appointment cannot be closed yet: %s remaining", e.Remaining.Round(time.Second))
	}
	return fmt.Sprintf("invalid status transition from %s", e.Current)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Is(target error) bool { return target == ErrCollaboratorUnavailable }

func (e *CollaboratorError) Unwrap() error { return e.Err }
