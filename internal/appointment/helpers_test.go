package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/session-scheduling/internal/metrics"
	redisclient "github.com/hackgods/session-scheduling/internal/redis"
)

var baseNow = time.Date(2030, time.March, 4, 9, 0, 0, 0, time.UTC)

// tomorrowAt returns hh:mm on the day after baseNow.
func tomorrowAt(hour, minute int) time.Time {
	return time.Date(2030, time.March, 5, hour, minute, 0, 0, time.UTC)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// failingProfiles always reports the store as down.
type failingProfiles struct {
	calls int
	mu    sync.Mutex
}

var errStoreDown = errors.New("connection refused")

func (f *failingProfiles) GetProfile(context.Context, uuid.UUID) (Profile, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errStoreDown
}

type testEnv struct {
	svc      *Service
	repo     *MemoryRepository
	profiles *StaticProfiles
	clock    *fakeClock

	professional ProfessionalProfile
	patient      PatientProfile
	otherPatient PatientProfile
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:  NewMemoryRepository(),
		clock: newFakeClock(baseNow),
		professional: ProfessionalProfile{
			ID:        uuid.New(),
			Name:      "Dra. Rivas",
			Specialty: "general",
			Offering:  OfferingMixed,
		},
		patient:      PatientProfile{ID: uuid.New(), Name: "Ana"},
		otherPatient: PatientProfile{ID: uuid.New(), Name: "Luis"},
	}
	env.profiles = NewStaticProfiles(env.professional, env.patient, env.otherPatient)

	policy, err := NewDurationPolicy(DurationRange{Min: 30, Max: 90}, nil)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	env.svc = newServiceWith(env.repo, env.profiles, policy, env.clock)
	return env
}

func newServiceWith(repo Repository, profiles ProfileProvider, policy DurationPolicy, clock Clock) *Service {
	return NewService(repo, profiles, redisclient.NewNoopLocker(), Settings{
		Policy:          policy,
		GracePeriod:     DefaultGracePeriod,
		UnknownOffering: UnknownPermissive,
	}, zap.NewNop(), metrics.NewCollector("test", prometheus.NewRegistry()), WithClock(clock))
}

func (e *testEnv) book(t *testing.T, patient uuid.UUID, start time.Time, minutes int) (*Appointment, error) {
	t.Helper()
	return e.svc.ProposeBooking(context.Background(), BookingRequest{
		PatientID:       patient,
		ProfessionalID:  e.professional.ID,
		Start:           start,
		DurationMinutes: minutes,
		Modality:        ModalityOnline,
	})
}

func (e *testEnv) mustBook(t *testing.T, patient uuid.UUID, start time.Time, minutes int) *Appointment {
	t.Helper()
	appt, err := e.book(t, patient, start, minutes)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	return appt
}

func (e *testEnv) professionalActor() Actor {
	return Actor{ID: e.professional.ID, Role: ActorProfessional}
}

func (e *testEnv) patientActor() Actor {
	return Actor{ID: e.patient.ID, Role: ActorPatient}
}
