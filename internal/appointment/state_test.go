package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newScheduled() *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		ProfessionalID:  uuid.New(),
		Start:           tomorrowAt(10, 0),
		DurationMinutes: 50,
		Status:          StatusScheduled,
	}
}

func TestClose_GracePeriod(t *testing.T) {
	a := newScheduled()
	pro := Actor{ID: a.ProfessionalID, Role: ActorProfessional}

	err := a.Close(pro, a.Start.Add(9*time.Minute), DefaultGracePeriod)
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if se.Remaining != time.Minute {
		t.Errorf("expected 1m remaining, got %s", se.Remaining)
	}
	if a.Status != StatusScheduled {
		t.Error("status changed on rejected close")
	}

	err = a.Close(pro, a.Start.Add(DefaultGracePeriod-time.Second), DefaultGracePeriod)
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError one second before the grace boundary, got %v", err)
	}
	if se.Remaining != time.Second {
		t.Errorf("expected 1s remaining, got %s", se.Remaining)
	}
	if a.Status != StatusScheduled || a.ClosedAt != nil {
		t.Error("rejected close must leave the appointment untouched")
	}

	closeAt := a.Start.Add(10 * time.Minute)
	if err := a.Close(pro, closeAt, DefaultGracePeriod); err != nil {
		t.Fatalf("close at grace boundary: %v", err)
	}
	if a.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", a.Status)
	}
	if a.ClosedAt == nil || !a.ClosedAt.Equal(closeAt) {
		t.Errorf("expected closed_at %s, got %v", closeAt, a.ClosedAt)
	}
}

func TestClose_BeforeStart(t *testing.T) {
	a := newScheduled()
	pro := Actor{ID: a.ProfessionalID, Role: ActorProfessional}

	err := a.Close(pro, a.Start.Add(-time.Hour), DefaultGracePeriod)
	var se *StateError
	if !errors.As(err, &se) || se.Remaining != time.Hour+DefaultGracePeriod {
		t.Fatalf("expected 1h10m remaining, got %v", err)
	}
}

func TestClose_OnlyAssignedProfessional(t *testing.T) {
	a := newScheduled()

	for _, actor := range []Actor{
		{ID: a.PatientID, Role: ActorPatient},
		{ID: uuid.New(), Role: ActorProfessional},
		{ID: uuid.New(), Role: ActorAdmin},
	} {
		if err := a.Close(actor, a.Start.Add(time.Hour), DefaultGracePeriod); !errors.Is(err, ErrNotPermitted) {
			t.Errorf("actor %s: expected ErrNotPermitted, got %v", actor.Role, err)
		}
	}
}

func TestClose_Terminal(t *testing.T) {
	for _, status := range []AppointmentStatus{StatusCompleted, StatusCancelled} {
		a := newScheduled()
		a.Status = status
		pro := Actor{ID: a.ProfessionalID, Role: ActorProfessional}

		err := a.Close(pro, a.Start.Add(time.Hour), DefaultGracePeriod)
		var se *StateError
		if !errors.As(err, &se) || se.Current != status {
			t.Errorf("status %s: expected StateError with current status, got %v", status, err)
		}
	}
}

func TestCancel(t *testing.T) {
	a := newScheduled()
	patient := Actor{ID: a.PatientID, Role: ActorPatient}
	now := a.Start.Add(-48 * time.Hour)

	if err := a.Cancel(patient, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", a.Status)
	}
	if a.CancelledBy == nil || *a.CancelledBy != patient.ID {
		t.Errorf("expected cancelled_by %s, got %v", patient.ID, a.CancelledBy)
	}

	if err := a.Cancel(patient, now); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second cancel: expected ErrInvalidState, got %v", err)
	}
}

func TestCancel_AfterStartAllowed(t *testing.T) {
	a := newScheduled()
	pro := Actor{ID: a.ProfessionalID, Role: ActorProfessional}

	if err := a.Cancel(pro, a.End().Add(time.Hour)); err != nil {
		t.Fatalf("cancel has no time gate: %v", err)
	}
}

func TestCancel_Permissions(t *testing.T) {
	a := newScheduled()

	if err := a.Cancel(Actor{ID: uuid.New(), Role: ActorPatient}, baseNow); !errors.Is(err, ErrNotPermitted) {
		t.Errorf("stranger: expected ErrNotPermitted, got %v", err)
	}
	if err := a.Cancel(Actor{ID: uuid.New(), Role: ActorAdmin}, baseNow); err != nil {
		t.Errorf("admin should be able to cancel: %v", err)
	}
}

func TestSetNotes(t *testing.T) {
	a := newScheduled()
	pro := Actor{ID: a.ProfessionalID, Role: ActorProfessional}

	if err := a.SetNotes(pro, "first session", baseNow); !errors.Is(err, ErrInvalidState) {
		t.Errorf("notes on scheduled: expected ErrInvalidState, got %v", err)
	}

	a.Status = StatusCompleted
	if err := a.SetNotes(Actor{ID: a.PatientID, Role: ActorPatient}, "x", baseNow); !errors.Is(err, ErrNotPermitted) {
		t.Errorf("patient notes: expected ErrNotPermitted, got %v", err)
	}
	if err := a.SetNotes(pro, "first session", baseNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Notes != "first session" {
		t.Errorf("notes not stored")
	}
}

func TestAppointmentStatus_IsTerminal(t *testing.T) {
	if StatusScheduled.IsTerminal() {
		t.Error("scheduled is not terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Error("completed and cancelled are terminal")
	}
}
