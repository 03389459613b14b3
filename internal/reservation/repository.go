package reservation

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all persistence needed by the service.
type Repository interface {
	Create(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// Update persists r only if the stored version still equals
	// expectedVersion, then bumps r.Version. History entries already stored
	// are never rewritten. Returns ErrVersionConflict on a stale write.
	Update(ctx context.Context, r *Reservation, expectedVersion int64) error

	// Admin listings, newest first
	List(ctx context.Context, filter ListFilter) ([]Reservation, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
