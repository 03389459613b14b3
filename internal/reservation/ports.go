package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MeetingRequest describes the video meeting to provision for a confirmed slot.
type MeetingRequest struct {
	ReservationID   uuid.UUID
	Start           time.Time
	DurationMinutes int
}

// Provisioner allocates and releases video meetings in an external system.
type Provisioner interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (MeetingRef, error)
	RevokeMeeting(ctx context.Context, ref MeetingRef) error
}

// StatusChangedEvent is handed to the notifier after a transition commits.
type StatusChangedEvent struct {
	ReservationID   uuid.UUID  `json:"reservation_id"`
	Action          string     `json:"action"`
	FromStatus      Status     `json:"from_status,omitempty"`
	ToStatus        Status     `json:"to_status"`
	Actor           string     `json:"actor"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	MeetingRef      MeetingRef `json:"meeting_ref,omitempty"`
	ChangedAt       time.Time  `json:"changed_at"`
}

// Notifier hands status changes to the delivery system (SMS, email).
type Notifier interface {
	NotifyStatusChanged(ctx context.Context, ev StatusChangedEvent) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyStatusChanged(context.Context, StatusChangedEvent) error { return nil }

type actorKey struct{}

// WithActor attributes transitions made with ctx to actor in the status history.
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, or fallback.
func ActorFrom(ctx context.Context, fallback string) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return fallback
}
