package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/appointment"
	"github.com/hackgods/session-scheduling/internal/auth"
	"github.com/hackgods/session-scheduling/internal/metrics"
	redisclient "github.com/hackgods/session-scheduling/internal/redis"
)

var testNow = time.Date(2030, time.March, 4, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type testServer struct {
	handler      http.Handler
	tokens       *auth.Tokens
	clock        *fixedClock
	professional appointment.ProfessionalProfile
	patient      appointment.PatientProfile
	otherPatient appointment.PatientProfile
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		tokens:       auth.NewTokens("test-secret", "test"),
		clock:        &fixedClock{now: testNow},
		professional: appointment.ProfessionalProfile{ID: uuid.New(), Specialty: "psiquiatria", Offering: appointment.OfferingOnline},
		patient:      appointment.PatientProfile{ID: uuid.New()},
		otherPatient: appointment.PatientProfile{ID: uuid.New()},
	}

	profiles := appointment.NewStaticProfiles(ts.professional, ts.patient, ts.otherPatient)
	m := metrics.NewCollector("test", prometheus.NewRegistry())

	svc := appointment.NewService(
		appointment.NewMemoryRepository(),
		profiles,
		redisclient.NewNoopLocker(),
		appointment.Settings{
			Policy:          appointment.DefaultDurationPolicy(),
			GracePeriod:     appointment.DefaultGracePeriod,
			UnknownOffering: appointment.UnknownPermissive,
		},
		zap.NewNop(),
		m,
		appointment.WithClock(ts.clock),
	)

	ts.handler = NewRouter(RouterConfig{
		Service: svc,
		Tokens:  ts.tokens,
		Metrics: m,
		Logger:  zap.NewNop(),
		Env:     "test",
		Version: "v0",
	})
	return ts
}

func (ts *testServer) token(t *testing.T, id uuid.UUID, role appointment.ActorRole) string {
	t.Helper()
	tok, err := ts.tokens.Issue(appointment.Actor{ID: id, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) bookAs(t *testing.T, patient uuid.UUID, start string, minutes int) *httptest.ResponseRecorder {
	t.Helper()
	body := fmt.Sprintf(`{"professional_id":%q,"start":%q,"duration_minutes":%d}`, ts.professional.ID, start, minutes)
	return ts.do(t, http.MethodPost, "/appointments", ts.token(t, patient, appointment.ActorPatient), body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth_Live(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health/live", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealth_ReadyWithoutDependencies(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health/ready", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := decode[ReadinessResponse](t, rec); got.Status != "ok" {
		t.Errorf("expected ok, got %s", got.Status)
	}
}

func TestAuth_Required(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodGet, "/appointments", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/appointments", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}
}

func TestCreateAppointment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 50)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[AppointmentResponse](t, rec)
	if resp.PatientID != ts.patient.ID {
		t.Errorf("patient must come from the token, got %s", resp.PatientID)
	}
	if !resp.End.Equal(time.Date(2030, time.March, 5, 10, 50, 0, 0, time.UTC)) {
		t.Errorf("expected end 10:50, got %s", resp.End)
	}
	if resp.Modality != "online" || resp.Status != "scheduled" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCreateAppointment_Conflict(t *testing.T) {
	ts := newTestServer(t)
	ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 50)

	rec := ts.bookAs(t, ts.otherPatient.ID, "2030-03-05T10:00:00Z", 60)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "slot_unavailable" || got.Role != "professional" {
		t.Errorf("unexpected error body %+v", got)
	}

	if rec := ts.bookAs(t, ts.otherPatient.ID, "2030-03-05T10:50:00Z", 30); rec.Code != http.StatusCreated {
		t.Errorf("touching booking: expected 201, got %d", rec.Code)
	}
}

func TestCreateAppointment_DurationPolicy(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 90)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	got := decode[ErrorResponse](t, rec)
	if got.Field != "duration_minutes" || got.Min != 20 || got.Max != 60 {
		t.Errorf("unexpected error body %+v", got)
	}
}

func TestCreateAppointment_BadInput(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, ts.patient.ID, appointment.ActorPatient)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"bad professional id", `{"professional_id":"x","start":"2030-03-05T10:00:00Z","duration_minutes":50}`, http.StatusBadRequest},
		{"bad start", fmt.Sprintf(`{"professional_id":%q,"start":"tomorrow","duration_minutes":50}`, ts.professional.ID), http.StatusBadRequest},
		{"unknown modality", fmt.Sprintf(`{"professional_id":%q,"start":"2030-03-05T10:00:00Z","duration_minutes":50,"modality":"fax"}`, ts.professional.ID), http.StatusUnprocessableEntity},
		{"booking for someone else", fmt.Sprintf(`{"patient_id":%q,"professional_id":%q,"start":"2030-03-05T10:00:00Z","duration_minutes":50}`, ts.otherPatient.ID, ts.professional.ID), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", tok, tt.body)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateAppointment_RoleRules(t *testing.T) {
	ts := newTestServer(t)
	body := fmt.Sprintf(`{"professional_id":%q,"start":"2030-03-05T10:00:00Z","duration_minutes":50}`, ts.professional.ID)

	proTok := ts.token(t, ts.professional.ID, appointment.ActorProfessional)
	if rec := ts.do(t, http.MethodPost, "/appointments", proTok, body); rec.Code != http.StatusForbidden {
		t.Errorf("professional booking: expected 403, got %d", rec.Code)
	}

	adminTok := ts.token(t, uuid.New(), appointment.ActorAdmin)
	if rec := ts.do(t, http.MethodPost, "/appointments", adminTok, body); rec.Code != http.StatusBadRequest {
		t.Errorf("admin without patient_id: expected 400, got %d", rec.Code)
	}

	adminBody := fmt.Sprintf(`{"patient_id":%q,"professional_id":%q,"start":"2030-03-05T10:00:00Z","duration_minutes":50}`, ts.patient.ID, ts.professional.ID)
	if rec := ts.do(t, http.MethodPost, "/appointments", adminTok, adminBody); rec.Code != http.StatusCreated {
		t.Errorf("admin booking on behalf: expected 201, got %d", rec.Code)
	}
}

func TestCloseAppointment_EarlyThenOnTime(t *testing.T) {
	ts := newTestServer(t)
	created := decode[AppointmentResponse](t, ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 50))
	proTok := ts.token(t, ts.professional.ID, appointment.ActorProfessional)
	path := "/appointments/" + created.ID.String() + "/close"

	ts.clock.now = time.Date(2030, time.March, 5, 10, 9, 0, 0, time.UTC)
	rec := ts.do(t, http.MethodPost, path, proTok, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "invalid_state" || got.RemainingSeconds != 60 {
		t.Errorf("unexpected error body %+v", got)
	}

	ts.clock.now = time.Date(2030, time.March, 5, 10, 10, 0, 0, time.UTC)
	rec = ts.do(t, http.MethodPost, path, proTok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[AppointmentResponse](t, rec); got.Status != "completed" || got.ClosedAt == nil {
		t.Errorf("unexpected response %+v", got)
	}

	patchBody := `{"notes":"follow up in two weeks"}`
	rec = ts.do(t, http.MethodPatch, "/appointments/"+created.ID.String()+"/notes", proTok, patchBody)
	if rec.Code != http.StatusOK {
		t.Errorf("notes: expected 200, got %d", rec.Code)
	}
}

func TestCancelAppointment(t *testing.T) {
	ts := newTestServer(t)
	created := decode[AppointmentResponse](t, ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 50))
	path := "/appointments/" + created.ID.String() + "/cancel"

	strangerTok := ts.token(t, ts.otherPatient.ID, appointment.ActorPatient)
	if rec := ts.do(t, http.MethodPost, path, strangerTok, ""); rec.Code != http.StatusForbidden {
		t.Errorf("stranger cancel: expected 403, got %d", rec.Code)
	}

	patientTok := ts.token(t, ts.patient.ID, appointment.ActorPatient)
	if rec := ts.do(t, http.MethodPost, path, patientTok, ""); rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, path, patientTok, ""); rec.Code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", rec.Code)
	}
}

func TestGetAndListAppointments(t *testing.T) {
	ts := newTestServer(t)
	created := decode[AppointmentResponse](t, ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 50))
	patientTok := ts.token(t, ts.patient.ID, appointment.ActorPatient)

	if rec := ts.do(t, http.MethodGet, "/appointments/"+created.ID.String(), patientTok, ""); rec.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/appointments/"+uuid.New().String(), patientTok, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get missing: expected 404, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/appointments/not-a-uuid", patientTok, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("get bad id: expected 400, got %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/appointments?status=scheduled", patientTok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if got := decode[ListAppointmentsResponse](t, rec); len(got.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(got.Items))
	}

	rec = ts.do(t, http.MethodGet, "/appointments?limit=1000&offset=-3", patientTok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list with oversized limit: expected 200, got %d", rec.Code)
	}
	if got := decode[ListAppointmentsResponse](t, rec); got.Limit != appointment.MaxPageLimit || got.Offset != 0 {
		t.Errorf("expected the applied page (limit %d, offset 0), got limit %d offset %d", appointment.MaxPageLimit, got.Limit, got.Offset)
	}

	rec = ts.do(t, http.MethodGet, "/appointments", patientTok, "")
	if got := decode[ListAppointmentsResponse](t, rec); got.Limit != appointment.DefaultPageLimit {
		t.Errorf("expected default limit %d, got %d", appointment.DefaultPageLimit, got.Limit)
	}

	if rec := ts.do(t, http.MethodGet, "/appointments?status=pending", patientTok, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status: expected 400, got %d", rec.Code)
	}
}

func TestProfessionalBusy(t *testing.T) {
	ts := newTestServer(t)
	ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 50)
	ts.bookAs(t, ts.otherPatient.ID, "2030-03-05T10:50:00Z", 30)

	patientTok := ts.token(t, ts.patient.ID, appointment.ActorPatient)
	path := "/professionals/" + ts.professional.ID.String() + "/busy?date=2030-03-05&tz=UTC"

	rec := ts.do(t, http.MethodGet, path, patientTok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	view := decode[appointment.DayView](t, rec)
	if len(view.Professional) != 2 {
		t.Errorf("expected 2 professional blocks, got %d", len(view.Professional))
	}
	if len(view.Patient) != 1 {
		t.Errorf("expected the caller's own block, got %d", len(view.Patient))
	}

	for _, bad := range []string{"?date=05-03-2030", "?date=2030-03-05&tz=Mars/Olympus", ""} {
		rec := ts.do(t, http.MethodGet, "/professionals/"+ts.professional.ID.String()+"/busy"+bad, patientTok, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", bad, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.bookAs(t, ts.patient.ID, "2030-03-05T10:00:00Z", 50)

	rec := ts.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"test_scheduling_bookings_total", "test_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

// stubService returns err from every booking.
type stubService struct {
	AppointmentService
	err error
}

func (s stubService) ProposeBooking(context.Context, appointment.BookingRequest) (*appointment.Appointment, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"validation", &appointment.ValidationError{Field: "start", Reason: "must be in the future"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"conflict", &appointment.ConflictError{Role: appointment.RolePatient}, http.StatusConflict, "slot_unavailable"},
		{"state", &appointment.StateError{Current: appointment.StatusCompleted}, http.StatusConflict, "invalid_state"},
		{"contention", appointment.ErrBookingInProgress, http.StatusConflict, "booking_in_progress"},
		{"collaborator", &appointment.CollaboratorError{Collaborator: "profile provider", Err: errors.New("down")}, http.StatusServiceUnavailable, "collaborator_unavailable"},
		{"not found", appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{"not permitted", appointment.ErrNotPermitted, http.StatusForbidden, "not_permitted"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	tokens := auth.NewTokens("s", "test")
	tok, _ := tokens.Issue(appointment.Actor{ID: uuid.New(), Role: appointment.ActorPatient}, time.Hour)
	body := fmt.Sprintf(`{"professional_id":%q,"start":"2030-03-05T10:00:00Z","duration_minutes":50}`, uuid.New())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{
				Service: stubService{err: tt.err},
				Tokens:  tokens,
				Metrics: metrics.NewCollector("test", prometheus.NewRegistry()),
				Logger:  zap.NewNop(),
			})

			req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+tok)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			if got := decode[ErrorResponse](t, rec); got.Error != tt.body {
				t.Errorf("expected error %q, got %q", tt.body, got.Error)
			}
		})
	}
}

func TestRequestID_Echoed(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected request id echoed, got %q", got)
	}
}
