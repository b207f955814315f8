package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgExclusionViolation = "23P01"

	constraintProfessionalOverlap = "appointments_professional_no_overlap"
	constraintPatientOverlap      = "appointments_patient_no_overlap"
)

const appointmentColumns = `id, patient_id, professional_id, start_at, duration_minutes, status, modality,
	professional_specialty, notes, created_at, updated_at, closed_at, cancelled_at, cancelled_by`

// participantColumn is a fixed lookup so role never reaches SQL as user input.
var participantColumn = map[ParticipantRole]string{
	RolePatient:      "patient_id",
	RoleProfessional: "professional_id",
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var specialty *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProfessionalID,
		&a.Start,
		&a.DurationMinutes,
		&a.Status,
		&a.Modality,
		&specialty,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ClosedAt,
		&a.CancelledAt,
		&a.CancelledBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if specialty != nil {
		a.ProfessionalSpecialty = *specialty
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// guardLockKeys returns the advisory lock keys of both participants in a
// stable order, so two transactions never wait on each other crosswise.
func guardLockKeys(a *Appointment) []string {
	keys := []string{
		"appointment:professional:" + a.ProfessionalID.String(),
		"appointment:patient:" + a.PatientID.String(),
	}
	sort.Strings(keys)
	return keys
}

func conflictFromConstraint(name string) *ConflictError {
	role := RoleProfessional
	if name == constraintPatientOverlap {
		role = RolePatient
	}
	return &ConflictError{Role: role, Source: SourceGuard}
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActive(ctx context.Context, role ParticipantRole, participantID uuid.UUID, window TimeRange) ([]Appointment, error) {
	col, ok := participantColumn[role]
	if !ok {
		return nil, fmt.Errorf("unknown participant role %q", role)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+col+` = $1
		  AND status = 'scheduled'
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, participantID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByParticipant(ctx context.Context, participantID uuid.UUID, status *AppointmentStatus, limit, offset int) ([]Appointment, error) {
	var statusFilter *string
	if status != nil {
		s := string(*status)
		statusFilter = &s
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE (patient_id = $1 OR professional_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY start_at
		LIMIT $3 OFFSET $4
	`, participantID, statusFilter, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// CommitIfNonOverlapping takes a transaction-scoped advisory lock per
// participant, re-runs the overlap check against committed rows and inserts.
// The exclusion constraints on the table remain the final authority: if a
// writer bypasses the locks, the insert fails with 23P01 instead.
func (r *PgRepository) CommitIfNonOverlapping(ctx context.Context, a *Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin guard tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range guardLockKeys(a) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return nil, fmt.Errorf("acquire guard lock: %w", err)
		}
	}

	tr := a.TimeRange()
	for _, role := range []ParticipantRole{RolePatient, RoleProfessional} {
		var existingID uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id
			FROM appointments
			WHERE `+participantColumn[role]+` = $1
			  AND status = 'scheduled'
			  AND start_at < $3
			  AND end_at > $2
			LIMIT 1
		`, a.ParticipantID(role), tr.Start, tr.End).Scan(&existingID)
		if err == nil {
			return nil, &ConflictError{Role: role, ConflictingID: existingID, Source: SourceGuard}
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("guard re-check %s: %w", role, err)
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, professional_id, start_at, duration_minutes, end_at, status, modality,
			professional_specialty, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.ProfessionalID, tr.Start, a.DurationMinutes, tr.End, a.Status, a.Modality,
		nullableString(a.ProfessionalSpecialty), a.Notes, a.CreatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return nil, conflictFromConstraint(pgErr.ConstraintName)
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return nil, conflictFromConstraint(pgErr.ConstraintName)
		}
		return nil, fmt.Errorf("commit guard tx: %w", err)
	}

	return created, nil
}

func (r *PgRepository) UpdateState(ctx context.Context, a *Appointment, from AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = $3,
		    updated_at = $4,
		    closed_at = $5,
		    cancelled_at = $6,
		    cancelled_by = $7
		WHERE id = $1
		  AND status = $8
		RETURNING `+appointmentColumns+`
	`, a.ID, a.Status, a.Notes, a.UpdatedAt, a.ClosedAt, a.CancelledAt, a.CancelledBy, from)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return updated, err
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

// GetProfile implements ProfileProvider on top of the profiles table kept in
// sync by the user-management service.
func (r *PgRepository) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	var (
		role, name          string
		specialty, modality *string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT role, display_name, specialty, work_modality
		FROM profiles
		WHERE user_id = $1
	`, id).Scan(&role, &name, &specialty, &modality)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}

	return ProfileFromRole(id, role, name, specialty, modality)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// UpsertProfile writes the local copy of a user-store profile.
func (r *PgRepository) UpsertProfile(ctx context.Context, p Profile) error {
	var (
		role                string
		name                string
		specialty, modality *string
	)
	switch v := p.(type) {
	case PatientProfile:
		role, name = "patient", v.Name
	case ProfessionalProfile:
		role, name = "professional", v.Name
		specialty = nullableString(v.Specialty)
		modality = nullableString(string(v.Offering))
	case OrganizationProfile:
		role, name = "organization", v.Name
	default:
		return fmt.Errorf("unsupported profile type %T", p)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, role, display_name, specialty, work_modality)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET role = EXCLUDED.role,
		    display_name = EXCLUDED.display_name,
		    specialty = EXCLUDED.specialty,
		    work_modality = EXCLUDED.work_modality
	`, p.ProfileID(), role, name, specialty, modality)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
