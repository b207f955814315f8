package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

func TestProfileFromRole(t *testing.T) {
	id := uuid.New()
	specialty, modality := "psiquiatria", "Mixta"

	p, err := ProfileFromRole(id, "profesional", "Dr. Soto", &specialty, &modality)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pro, ok := p.(ProfessionalProfile)
	if !ok {
		t.Fatalf("expected ProfessionalProfile, got %T", p)
	}
	if pro.Specialty != "psiquiatria" || pro.Offering != OfferingMixed {
		t.Errorf("unexpected professional %+v", pro)
	}

	p, err = ProfileFromRole(id, "paciente", "Ana", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(PatientProfile); !ok {
		t.Errorf("expected PatientProfile, got %T", p)
	}

	if _, err := ProfileFromRole(id, "superuser", "", nil, nil); err == nil {
		t.Error("expected error for unsupported role")
	}
}

func TestProfileFromRole_ProfessionalWithoutOffering(t *testing.T) {
	p, err := ProfileFromRole(uuid.New(), "professional", "Dr. Soto", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.(ProfessionalProfile).Offering != OfferingUnknown {
		t.Error("expected unknown offering")
	}
}

func TestBreakerProfileProvider_NotFoundDoesNotTrip(t *testing.T) {
	b := NewBreakerProfileProvider(NewStaticProfiles(), BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := b.GetProfile(context.Background(), uuid.New())
		if !errors.Is(err, ErrProfileNotFound) {
			t.Fatalf("attempt %d: expected ErrProfileNotFound, got %v", i, err)
		}
	}
}

func TestBreakerProfileProvider_OpensOnFailures(t *testing.T) {
	store := &failingProfiles{}
	b := NewBreakerProfileProvider(store, BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := b.GetProfile(context.Background(), uuid.New()); !errors.Is(err, errStoreDown) {
			t.Fatalf("attempt %d: expected store error, got %v", i, err)
		}
	}

	if _, err := b.GetProfile(context.Background(), uuid.New()); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if store.calls != 3 {
		t.Errorf("expected 3 store calls, got %d", store.calls)
	}
}

func TestStaticProfiles(t *testing.T) {
	p := PatientProfile{ID: uuid.New(), Name: "Ana"}
	s := NewStaticProfiles()

	if _, err := s.GetProfile(context.Background(), p.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
	if err := s.UpsertProfile(context.Background(), p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.GetProfile(context.Background(), p.ID)
	if err != nil || got.ProfileID() != p.ID {
		t.Errorf("expected stored profile, got %v, %v", got, err)
	}
}
