package seed

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/session-scheduling/internal/appointment"
)

// Specialties mirrors the specialty catalogue of the user store.
var Specialties = []string{
	"psiquiatria",
	"psicologia_clinica",
	"infanto_juvenil",
	"pareja_familia",
	"neuropsicologia",
	"sexologia_clinica",
	"adicciones",
	"gerontopsicologia",
	"psicologia_salud",
	"evaluacion_psicologica",
	"psicologia_educativa",
	"otro",
}

var offerings = []string{
	string(appointment.OfferingInPerson),
	string(appointment.OfferingOnline),
	string(appointment.OfferingMixed),
	"", // not declared
}

// ProfileWriter stores generated profiles.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, p appointment.Profile) error
}

// Profiles generates fake professionals and patients. A zero seed picks a
// random one.
func Profiles(seed uint64, professionals, patients int) []appointment.Profile {
	f := gofakeit.New(seed)
	out := make([]appointment.Profile, 0, professionals+patients)

	for i := 0; i < professionals; i++ {
		out = append(out, appointment.ProfessionalProfile{
			ID:        uuid.New(),
			Name:      f.Name(),
			Specialty: f.RandomString(Specialties),
			Offering:  appointment.ModalityOffering(f.RandomString(offerings)),
		})
	}
	for i := 0; i < patients; i++ {
		out = append(out, appointment.PatientProfile{
			ID:   uuid.New(),
			Name: f.Name(),
		})
	}
	return out
}

// Write stores every profile, stopping at the first error.
func Write(ctx context.Context, w ProfileWriter, profiles []appointment.Profile) error {
	for _, p := range profiles {
		if err := w.UpsertProfile(ctx, p); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.ProfileID(), err)
		}
	}
	return nil
}
