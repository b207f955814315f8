package appointment

import (
	"github.com/google/uuid"
)

// Overlaps is the half-open overlap predicate. Touching intervals
// (a.End == b.Start) do not overlap.
func Overlaps(a, b TimeRange) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// FindConflict returns the first active appointment in candidates that
// overlaps proposed, skipping excludeID. Inactive entries are ignored even if
// the caller passed them in.
func FindConflict(candidates []Appointment, proposed TimeRange, excludeID uuid.UUID) *Appointment {
	for i := range candidates {
		a := &candidates[i]
		if !a.IsActive() {
			continue
		}
		if excludeID != uuid.Nil && a.ID == excludeID {
			continue
		}
		if Overlaps(a.TimeRange(), proposed) {
			return a
		}
	}
	return nil
}
