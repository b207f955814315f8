package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/appointment"
)

type AppointmentService interface {
	ProposeBooking(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	CloseAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, actor appointment.Actor, notes string) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, actor appointment.Actor, participantID uuid.UUID, status *appointment.AppointmentStatus, limit, offset int) ([]appointment.Appointment, error)
	GetDayView(ctx context.Context, professionalID, patientID uuid.UUID, date time.Time, loc *time.Location) (appointment.DayView, error)
}

type handlers struct {
	svc AppointmentService
	log *zap.Logger
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, ok := h.bookingPatient(w, actor, req.PatientID)
	if !ok {
		return
	}

	professionalID, err := uuid.Parse(req.ProfessionalID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
		return
	}

	modality, err := appointment.ParseModality(req.Modality)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	appt, err := h.svc.ProposeBooking(r.Context(), appointment.BookingRequest{
		PatientID:       patientID,
		ProfessionalID:  professionalID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Modality:        modality,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(appt))
}

// bookingPatient decides who the booking is for. Patients always book for
// themselves; admins must name the patient.
func (h *handlers) bookingPatient(w http.ResponseWriter, actor appointment.Actor, requested string) (uuid.UUID, bool) {
	switch actor.Role {
	case appointment.ActorPatient:
		if requested != "" && requested != actor.ID.String() {
			writeError(w, http.StatusForbidden, "not_permitted", "patients can only book for themselves")
			return uuid.Nil, false
		}
		return actor.ID, true

	case appointment.ActorAdmin:
		id, err := uuid.Parse(requested)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return uuid.Nil, false
		}
		return id, true
	}

	writeError(w, http.StatusForbidden, "not_permitted", "only patients can book appointments")
	return uuid.Nil, false
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	q := r.URL.Query()

	var participantID uuid.UUID
	if raw := q.Get("participant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_participant_id", "participant_id must be a valid UUID")
			return
		}
		participantID = id
	}

	var status *appointment.AppointmentStatus
	if raw := q.Get("status"); raw != "" {
		s := appointment.AppointmentStatus(raw)
		switch s {
		case appointment.StatusScheduled, appointment.StatusCompleted, appointment.StatusCancelled:
			status = &s
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be scheduled, completed or cancelled")
			return
		}
	}

	limit, offset := appointment.ClampPage(queryInt(q.Get("limit"), 0), queryInt(q.Get("offset"), 0))

	appts, err := h.svc.ListAppointments(r.Context(), actor, participantID, status, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	items := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		items = append(items, toResponse(&appts[i]))
	}

	writeJSON(w, http.StatusOK, ListAppointmentsResponse{Items: items, Limit: limit, Offset: offset})
}

func (h *handlers) closeAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CloseAppointment)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CancelAppointment)
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, appointment.Actor) (*appointment.Appointment, error)) {
	actor, _ := actorFrom(r.Context())

	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := op(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *handlers) updateNotes(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req UpdateNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.UpdateNotes(r.Context(), id, actor, req.Notes)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

// professionalBusy serves the booking page: the professional's busy blocks
// and, for a patient caller, their own.
func (h *handlers) professionalBusy(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	professionalID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_professional_id", "id must be a valid UUID")
		return
	}

	loc := time.UTC
	if tz := r.URL.Query().Get("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tz", "tz must be an IANA time zone name")
			return
		}
	}

	rawDate := r.URL.Query().Get("date")
	if rawDate == "" {
		writeError(w, http.StatusBadRequest, "invalid_date", "date is required (YYYY-MM-DD)")
		return
	}
	date, err := time.ParseInLocation(time.DateOnly, rawDate, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	var patientID uuid.UUID
	if actor.Role == appointment.ActorPatient {
		patientID = actor.ID
	}

	view, err := h.svc.GetDayView(r.Context(), professionalID, patientID, date, loc)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
