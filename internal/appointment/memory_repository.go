package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process memory. It has no native
// range constraint, so its guard serialises writers per participant with a
// keyed mutex, the in-process counterpart of an advisory lock. Writers for
// different participants never wait on each other.
type MemoryRepository struct {
	mu     sync.RWMutex
	appts  map[uuid.UUID]Appointment
	events []EventLog
	nextEv int64

	locks keyedMutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appts: make(map[uuid.UUID]Appointment),
		locks: keyedMutex{held: make(map[string]*keyedEntry)},
	}
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindActive(_ context.Context, role ParticipantRole, participantID uuid.UUID, window TimeRange) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked(role, participantID, window), nil
}

func (r *MemoryRepository) activeLocked(role ParticipantRole, participantID uuid.UUID, window TimeRange) []Appointment {
	var out []Appointment
	for _, a := range r.appts {
		if a.ParticipantID(role) != participantID || !a.IsActive() {
			continue
		}
		if Overlaps(a.TimeRange(), window) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out
}

func (r *MemoryRepository) ListByParticipant(_ context.Context, participantID uuid.UUID, status *AppointmentStatus, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	var all []Appointment
	for _, a := range r.appts {
		if !a.Involves(participantID) {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		all = append(all, a)
	}
	r.mu.RUnlock()

	sortByStart(all)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) CommitIfNonOverlapping(ctx context.Context, a *Appointment) (*Appointment, error) {
	keys := guardLockKeys(a)
	for _, k := range keys {
		r.locks.Lock(k)
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			r.locks.Unlock(keys[i])
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Holding both participant locks, no other commit can add a scheduled
	// row for either of them between the check and the insert.
	tr := a.TimeRange()
	r.mu.RLock()
	for _, role := range []ParticipantRole{RolePatient, RoleProfessional} {
		if hit := FindConflict(r.activeLocked(role, a.ParticipantID(role), tr), tr, uuid.Nil); hit != nil {
			r.mu.RUnlock()
			return nil, &ConflictError{Role: role, ConflictingID: hit.ID, Source: SourceGuard}
		}
	}
	r.mu.RUnlock()

	stored := *a
	stored.UpdatedAt = stored.CreatedAt

	r.mu.Lock()
	r.appts[stored.ID] = stored
	r.mu.Unlock()
	return &stored, nil
}

func (r *MemoryRepository) UpdateState(_ context.Context, a *Appointment, from AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.appts[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if cur.Status != from {
		return nil, ErrStatusChanged
	}

	cur.Status = a.Status
	cur.Notes = a.Notes
	cur.UpdatedAt = a.UpdatedAt
	cur.ClosedAt = a.ClosedAt
	cur.CancelledAt = a.CancelledAt
	cur.CancelledBy = a.CancelledBy
	r.appts[a.ID] = cur
	return &cur, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEv++
	ev.ID = r.nextEv
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].Start.Before(appts[j].Start)
	})
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]*keyedEntry
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.held[key]
	if !ok {
		e = &keyedEntry{}
		k.held[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	e := k.held[key]
	e.refs--
	if e.refs == 0 {
		delete(k.held, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
