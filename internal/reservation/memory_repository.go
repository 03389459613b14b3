package reservation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps reservations in process. It backs tests and
// single-node development runs.
type MemoryRepository struct {
	mu           sync.RWMutex
	reservations map[uuid.UUID]*Reservation
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{reservations: make(map[uuid.UUID]*Reservation)}
}

func (m *MemoryRepository) Create(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reservations[r.ID]; exists {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	m.reservations[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) Update(_ context.Context, r *Reservation, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.reservations[r.ID]
	if !ok {
		return ErrReservationNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	if len(r.StatusHistory) < len(stored.StatusHistory) {
		return fmt.Errorf("%w: status history shrank from %d to %d entries",
			ErrInvariantViolation, len(stored.StatusHistory), len(r.StatusHistory))
	}

	r.Version = expectedVersion + 1
	m.reservations[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := set(filter.Statuses...)
	var out []Reservation
	for _, r := range m.reservations {
		if len(wanted) > 0 && !wanted[r.Status] {
			continue
		}
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}
