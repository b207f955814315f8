package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/metrics"
	redisclient "github.com/hackgods/session-scheduling/internal/redis"
)

const (
	EventAppointmentBooked       = "APPOINTMENT_BOOKED"
	EventAppointmentCompleted    = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled    = "APPOINTMENT_CANCELLED"
	EventAppointmentNotesUpdated = "APPOINTMENT_NOTES_UPDATED"
)

// ErrBookingInProgress means a participant lock stayed held past the lock wait.
// Nothing was stored and no conflict was proven; the caller may retry.
var ErrBookingInProgress = errors.New("another booking for this participant is in progress, please retry")

// Settings are the scheduling rules fixed at startup.
type Settings struct {
	Policy          DurationPolicy
	GracePeriod     time.Duration
	UnknownOffering UnknownOfferingPolicy
}

type Service struct {
	repo     Repository
	profiles ProfileProvider
	locker   redisclient.Locker
	settings Settings
	clock    Clock
	log      *zap.Logger
	metrics  *metrics.Collector
}

type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func NewService(repo Repository, profiles ProfileProvider, locker redisclient.Locker, settings Settings, log *zap.Logger, m *metrics.Collector, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		profiles: profiles,
		locker:   locker,
		settings: settings,
		clock:    SystemClock(),
		log:      log,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProposeBooking validates a booking request and commits it through the
// scheduling guard. It returns a *ValidationError, a *ConflictError, a
// *CollaboratorError or a storage error.
func (s *Service) ProposeBooking(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := s.proposeBooking(ctx, req)
	s.recordBooking(err)
	return appt, err
}

func (s *Service) proposeBooking(ctx context.Context, req BookingRequest) (*Appointment, error) {
	now := s.clock.Now()

	if err := validateRequest(req, now); err != nil {
		return nil, err
	}

	prof, err := s.resolveProfessional(ctx, req.ProfessionalID)
	if err != nil {
		return nil, err
	}
	if err := s.resolvePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	if err := s.settings.Policy.Check(prof.Specialty, req.DurationMinutes); err != nil {
		return nil, err
	}

	modality, err := ResolveModality(req.Modality, prof.Offering, s.settings.UnknownOffering)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:                    uuid.New(),
		PatientID:             req.PatientID,
		ProfessionalID:        req.ProfessionalID,
		Start:                 req.Start,
		DurationMinutes:       req.DurationMinutes,
		Status:                StatusScheduled,
		Modality:              modality,
		ProfessionalSpecialty: prof.Specialty,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.checkConflicts(ctx, appt.TimeRange(), req.PatientID, req.ProfessionalID, uuid.Nil); err != nil {
		return nil, err
	}

	created, err := s.commit(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"patient_id":       created.PatientID.String(),
		"professional_id":  created.ProfessionalID.String(),
		"start":            created.Start,
		"duration_minutes": created.DurationMinutes,
		"modality":         created.Modality,
		"specialty":        created.ProfessionalSpecialty,
	})

	s.log.Info("appointment booked",
		zap.Stringer("appointment_id", created.ID),
		zap.Stringer("professional_id", created.ProfessionalID),
		zap.Time("start", created.Start),
		zap.Int("duration_minutes", created.DurationMinutes),
	)

	return created, nil
}

func validateRequest(req BookingRequest, now time.Time) error {
	if req.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if req.ProfessionalID == uuid.Nil {
		return &ValidationError{Field: "professional_id", Reason: "is required"}
	}
	if req.PatientID == req.ProfessionalID {
		return &ValidationError{Field: "professional_id", Reason: "must differ from patient_id"}
	}
	if req.Start.IsZero() {
		return &ValidationError{Field: "start", Reason: "is required"}
	}
	if !req.Start.After(now) {
		return &ValidationError{Field: "start", Reason: "must be in the future"}
	}
	if req.DurationMinutes <= 0 {
		return &ValidationError{Field: "duration_minutes", Reason: "must be positive"}
	}
	return nil
}

// resolveProfessional fails closed: a lookup failure never falls back to
// default policy data.
func (s *Service) resolveProfessional(ctx context.Context, id uuid.UUID) (ProfessionalProfile, error) {
	p, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return ProfessionalProfile{}, &ValidationError{Field: "professional_id", Reason: "unknown professional"}
		}
		return ProfessionalProfile{}, &CollaboratorError{Collaborator: "profile provider", Err: err}
	}

	prof, ok := p.(ProfessionalProfile)
	if !ok {
		return ProfessionalProfile{}, &ValidationError{Field: "professional_id", Reason: "user is not a professional"}
	}
	return prof, nil
}

func (s *Service) resolvePatient(ctx context.Context, id uuid.UUID) error {
	p, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return &ValidationError{Field: "patient_id", Reason: "unknown patient"}
		}
		return &CollaboratorError{Collaborator: "profile provider", Err: err}
	}

	if _, ok := p.(PatientProfile); !ok {
		return &ValidationError{Field: "patient_id", Reason: "user is not a patient"}
	}
	return nil
}

// checkConflicts is the advisory pre-check, patient first, then professional.
func (s *Service) checkConflicts(ctx context.Context, tr TimeRange, patientID, professionalID, excludeID uuid.UUID) error {
	sides := []struct {
		role ParticipantRole
		id   uuid.UUID
	}{
		{RolePatient, patientID},
		{RoleProfessional, professionalID},
	}

	for _, side := range sides {
		active, err := s.repo.FindActive(ctx, side.role, side.id, tr)
		if err != nil {
			return fmt.Errorf("load active %s appointments: %w", side.role, err)
		}
		if hit := FindConflict(active, tr, excludeID); hit != nil {
			return &ConflictError{Role: side.role, ConflictingID: hit.ID, Source: SourcePrecheck}
		}
	}
	return nil
}

func (s *Service) commit(ctx context.Context, appt *Appointment) (*Appointment, error) {
	start := time.Now()
	defer func() {
		s.metrics.GuardCommitSeconds.Observe(time.Since(start).Seconds())
	}()

	keys := []string{
		string(RoleProfessional) + ":" + appt.ProfessionalID.String(),
		string(RolePatient) + ":" + appt.PatientID.String(),
	}

	var created *Appointment
	err := s.locker.WithParticipantLocks(ctx, keys, func(lockCtx context.Context) error {
		c, err := s.repo.CommitIfNonOverlapping(lockCtx, appt)
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.log.Warn("booking rejected by scheduling guard",
				zap.String("role", string(conflict.Role)),
				zap.Stringer("professional_id", appt.ProfessionalID),
				zap.Time("start", appt.Start),
			)
			return nil, err
		}
		return nil, fmt.Errorf("commit appointment: %w", err)
	}

	return created, nil
}

// CloseAppointment marks a scheduled appointment completed once its grace
// period has elapsed.
func (s *Service) CloseAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := appt.Close(actor, s.clock.Now(), s.settings.GracePeriod); err != nil {
		return nil, err
	}

	updated, err := s.persistTransition(ctx, appt, StatusScheduled)
	if err != nil {
		return nil, err
	}

	s.metrics.TransitionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{
		"closed_by": actor.ID.String(),
	})

	return updated, nil
}

// CancelAppointment cancels a scheduled appointment at any time.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := appt.Cancel(actor, s.clock.Now()); err != nil {
		return nil, err
	}

	updated, err := s.persistTransition(ctx, appt, StatusScheduled)
	if err != nil {
		return nil, err
	}

	s.metrics.TransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"cancelled_by": actor.ID.String(),
		"actor_role":   string(actor.Role),
	})

	return updated, nil
}

// UpdateNotes lets the professional write notes on a completed appointment.
func (s *Service) UpdateNotes(ctx context.Context, id uuid.UUID, actor Actor, notes string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := appt.SetNotes(actor, notes, s.clock.Now()); err != nil {
		return nil, err
	}

	updated, err := s.persistTransition(ctx, appt, StatusCompleted)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentNotesUpdated, map[string]any{
		"length": len(notes),
	})

	return updated, nil
}

// persistTransition writes appt if its stored status is still from. Losing
// that race reports the status the winner left behind.
func (s *Service) persistTransition(ctx context.Context, appt *Appointment, from AppointmentStatus) (*Appointment, error) {
	updated, err := s.repo.UpdateState(ctx, appt, from)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrStatusChanged) {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	current, loadErr := s.repo.GetAppointmentByID(ctx, appt.ID)
	if loadErr != nil {
		return nil, fmt.Errorf("reload appointment: %w", loadErr)
	}
	return nil, &StateError{Current: current.Status}
}

// GetAppointment returns the appointment if actor takes part in it or is an admin.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.canRead(actor) {
		return nil, ErrNotPermitted
	}
	return appt, nil
}

// ListAppointments lists the appointments of participantID. Only admins may
// list someone other than themselves.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, participantID uuid.UUID, status *AppointmentStatus, limit, offset int) ([]Appointment, error) {
	if participantID == uuid.Nil {
		participantID = actor.ID
	}
	if participantID != actor.ID && !actor.IsAdmin() {
		return nil, ErrNotPermitted
	}

	limit, offset = ClampPage(limit, offset)

	appts, err := s.repo.ListByParticipant(ctx, participantID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ClampPage returns the limit and offset a list query actually uses.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetBusyBlocks returns the participant's scheduled appointments that
// intersect date's calendar day in loc. Blocks are not clipped to the day.
func (s *Service) GetBusyBlocks(ctx context.Context, role ParticipantRole, participantID uuid.UUID, date time.Time, loc *time.Location) ([]BusyBlock, error) {
	window := DayWindow(date, loc)

	active, err := s.repo.FindActive(ctx, role, participantID, window)
	if err != nil {
		return nil, fmt.Errorf("load busy %s appointments: %w", role, err)
	}
	return BusyBlocksFor(active, window), nil
}

// DayView is what a booking screen needs for one day: the professional's busy
// blocks and the viewing patient's own.
type DayView struct {
	Professional []BusyBlock `json:"professional"`
	Patient      []BusyBlock `json:"patient"`
}

func (s *Service) GetDayView(ctx context.Context, professionalID, patientID uuid.UUID, date time.Time, loc *time.Location) (DayView, error) {
	pro, err := s.GetBusyBlocks(ctx, RoleProfessional, professionalID, date, loc)
	if err != nil {
		return DayView{}, err
	}

	view := DayView{Professional: pro, Patient: []BusyBlock{}}
	if patientID != uuid.Nil {
		pat, err := s.GetBusyBlocks(ctx, RolePatient, patientID, date, loc)
		if err != nil {
			return DayView{}, err
		}
		view.Patient = pat
	}
	return view, nil
}

func (s *Service) recordBooking(err error) {
	var (
		conflict *ConflictError
		outcome  string
	)
	switch {
	case err == nil:
		outcome = "booked"
	case errors.As(err, &conflict):
		outcome = "conflict"
		s.metrics.ConflictsTotal.WithLabelValues(string(conflict.Source), string(conflict.Role)).Inc()
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
	case errors.Is(err, ErrBookingInProgress):
		outcome = "contended"
	case errors.Is(err, ErrCollaboratorUnavailable):
		outcome = "collaborator_unavailable"
	default:
		outcome = "error"
	}
	s.metrics.BookingsTotal.WithLabelValues(outcome).Inc()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("failed to insert event log",
			zap.String("event", eventType),
			zap.Stringer("appointment_id", appointmentID),
			zap.Error(err),
		)
	}
}
