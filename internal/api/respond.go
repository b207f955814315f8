package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps the appointment error taxonomy onto HTTP.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		validation   *appointment.ValidationError
		conflict     *appointment.ConflictError
		state        *appointment.StateError
		collaborator *appointment.CollaboratorError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Details: validation.Error(),
			Field:   validation.Field,
			Min:     validation.Min,
			Max:     validation.Max,
			Allowed: validation.Allowed,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "slot_unavailable",
			Details: conflict.Error(),
			Role:    string(conflict.Role),
		})
	case errors.As(err, &state):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:            "invalid_state",
			Details:          state.Error(),
			Status:           string(state.Current),
			RemainingSeconds: int64(math.Ceil(state.Remaining.Seconds())),
		})
	case errors.Is(err, appointment.ErrBookingInProgress):
		writeError(w, http.StatusConflict, "booking_in_progress", err.Error())
	case errors.As(err, &collaborator):
		log.Warn("collaborator unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "collaborator_unavailable", collaborator.Collaborator+" is unavailable, please retry")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotPermitted):
		writeError(w, http.StatusForbidden, "not_permitted", err.Error())
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
