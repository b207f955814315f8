package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is a closed union of the participant kinds the user store knows
// about. It is resolved once at the collaborator boundary.
type Profile interface {
	ProfileID() uuid.UUID
	isProfile()
}

type PatientProfile struct {
	ID   uuid.UUID
	Name string
}

type ProfessionalProfile struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	Offering  ModalityOffering
}

type OrganizationProfile struct {
	ID   uuid.UUID
	Name string
}

func (p PatientProfile) ProfileID() uuid.UUID      { return p.ID }
func (p ProfessionalProfile) ProfileID() uuid.UUID { return p.ID }
func (p OrganizationProfile) ProfileID() uuid.UUID { return p.ID }

func (PatientProfile) isProfile()      {}
func (ProfessionalProfile) isProfile() {}
func (OrganizationProfile) isProfile() {}

// ProfileFromRole builds the union member for a stored role. Roles are the
// ones written by the user store ("paciente", "profesional", "organizacion")
// or their English equivalents.
func ProfileFromRole(id uuid.UUID, role, name string, specialty, modality *string) (Profile, error) {
	switch role {
	case "patient", "paciente":
		return PatientProfile{ID: id, Name: name}, nil
	case "professional", "profesional":
		p := ProfessionalProfile{ID: id, Name: name}
		if specialty != nil {
			p.Specialty = *specialty
		}
		if modality != nil {
			p.Offering = ParseOffering(*modality)
		}
		return p, nil
	case "organization", "organizacion":
		return OrganizationProfile{ID: id, Name: name}, nil
	}
	return nil, fmt.Errorf("profile %s: unsupported role %q", id, role)
}

// ProfileProvider is the user-management collaborator.
type ProfileProvider interface {
	GetProfile(ctx context.Context, id uuid.UUID) (Profile, error)
}

// BreakerSettings configures BreakerProfileProvider.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerProfileProvider stops calling a failing profile store for a while.
// A missing profile is an answer, not a failure, and does not trip it.
type BreakerProfileProvider struct {
	next ProfileProvider
	cb   *gobreaker.CircuitBreaker[Profile]
}

func NewBreakerProfileProvider(next ProfileProvider, st BreakerSettings, log *zap.Logger) *BreakerProfileProvider {
	if st.ConsecutiveFailures == 0 {
		st.ConsecutiveFailures = 5
	}
	if st.OpenTimeout <= 0 {
		st.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[Profile](gobreaker.Settings{
		Name:        "profile-provider",
		MaxRequests: 1,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProfileNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerProfileProvider{next: next, cb: cb}
}

func (b *BreakerProfileProvider) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	return b.cb.Execute(func() (Profile, error) {
		return b.next.GetProfile(ctx, id)
	})
}

// StaticProfiles is an in-process profile table for the memory backend and tests.
type StaticProfiles struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]Profile
}

func NewStaticProfiles(profiles ...Profile) *StaticProfiles {
	s := &StaticProfiles{profiles: make(map[uuid.UUID]Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ProfileID()] = p
	}
	return s
}

func (s *StaticProfiles) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ProfileID()] = p
}

// UpsertProfile lets StaticProfiles receive seeded profiles.
func (s *StaticProfiles) UpsertProfile(_ context.Context, p Profile) error {
	s.Put(p)
	return nil
}

func (s *StaticProfiles) GetProfile(_ context.Context, id uuid.UUID) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}
