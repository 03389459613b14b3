package reservation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRequested   Status = "requested"
	StatusNeedsChange Status = "needs_change"
	StatusApproved    Status = "approved"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
	StatusRejected    Status = "rejected"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{
	StatusRequested,
	StatusNeedsChange,
	StatusApproved,
	StatusRescheduled,
	StatusCompleted,
	StatusNoShow,
	StatusRejected,
}

var statusLabels = map[Status]string{
	StatusRequested:   "Requested",
	StatusNeedsChange: "Needs change",
	StatusApproved:    "Approved",
	StatusRescheduled: "Rescheduled",
	StatusCompleted:   "Completed",
	StatusNoShow:      "No-show",
	StatusRejected:    "Rejected",
}

// Label is the text the admin console shows for the status.
func (s Status) Label() string {
	return statusLabels[s]
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusNoShow, StatusRejected:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", invalid("status", "unknown status %q", raw)
	}
	return s, nil
}

// MeetingRef identifies a video meeting owned by the provisioning service.
type MeetingRef string

const (
	ActorPatient = "patient"
	ActorClinic  = "clinic"
	ActorSystem  = "system"
)

// StatusChange is one append-only audit entry. From is empty for creation.
type StatusChange struct {
	From  Status    `json:"from_status,omitempty"`
	To    Status    `json:"to_status"`
	At    time.Time `json:"at"`
	Actor string    `json:"actor"`
}

// Reservation is the aggregate root of a video consultation booking.
//
// Invariants:
//   - RequestedSlots holds 1-3 candidates with contiguous ranks and distinct instants
//   - ClinicProposedSlots, when non-empty, obeys the same rules on its own
//   - ConfirmedAt, when set, is an instant from RequestedSlots or ClinicProposedSlots
//   - MeetingRef is set if and only if Status is approved
//   - StatusHistory only grows, and its last entry ends in Status
//
// Mutations go through the Apply* methods in statemachine.go.
type Reservation struct {
	ID                       uuid.UUID
	RequestedSlots           SlotSet
	ClinicProposedSlots      SlotSet
	ConfirmedAt              *time.Time
	ConfirmedDurationMinutes int
	Status                   Status
	PreApprovalStatus        Status
	StatusChangedAt          time.Time
	MeetingRef               MeetingRef
	CancelReasonCode         string
	CancelReasonText         string
	StatusHistory            []StatusChange
	CreatedAt                time.Time
	Version                  int64
}

// NewReservation creates a reservation in requested with its first history entry.
func NewReservation(id uuid.UUID, requested SlotSet, now time.Time, actor string) (*Reservation, error) {
	if err := requested.validate(false); err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Reservation{
		ID:              id,
		RequestedSlots:  requested,
		Status:          StatusRequested,
		StatusChangedAt: now,
		StatusHistory:   []StatusChange{{To: StatusRequested, At: now, Actor: actor}},
		CreatedAt:       now,
		Version:         1,
	}, nil
}

// Clone returns a deep copy so a transition can be prepared without touching the original.
func (r *Reservation) Clone() *Reservation {
	c := *r
	c.RequestedSlots = r.RequestedSlots.clone()
	c.ClinicProposedSlots = r.ClinicProposedSlots.clone()
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		c.ConfirmedAt = &t
	}
	c.StatusHistory = append([]StatusChange(nil), r.StatusHistory...)
	return &c
}

// ConfirmedEnd is the end of the confirmed consultation, zero when unconfirmed.
func (r *Reservation) ConfirmedEnd() time.Time {
	if r.ConfirmedAt == nil {
		return time.Time{}
	}
	return r.ConfirmedAt.Add(time.Duration(r.ConfirmedDurationMinutes) * time.Minute)
}

// CheckInvariants reports corrupt state wrapped in ErrInvariantViolation.
func (r *Reservation) CheckInvariants() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: reservation %s: %s", ErrInvariantViolation, r.ID, fmt.Sprintf(format, args...))
	}

	if !r.Status.Valid() {
		return fail("unknown status %q", r.Status)
	}
	if err := r.RequestedSlots.validate(false); err != nil {
		return fail("requested slots: %v", err)
	}
	if err := r.ClinicProposedSlots.validate(true); err != nil {
		return fail("clinic proposed slots: %v", err)
	}
	if r.ConfirmedAt != nil {
		if !r.RequestedSlots.Contains(*r.ConfirmedAt) && !r.ClinicProposedSlots.Contains(*r.ConfirmedAt) {
			return fail("confirmed time %s was never proposed", r.ConfirmedAt.Format(time.RFC3339))
		}
		if r.ConfirmedDurationMinutes <= 0 {
			return fail("confirmed duration %d", r.ConfirmedDurationMinutes)
		}
	}
	if r.Status == StatusApproved && r.ConfirmedAt == nil {
		return fail("approved without a confirmed time")
	}
	if (r.MeetingRef != "") != (r.Status == StatusApproved) {
		return fail("meeting ref %q with status %s", r.MeetingRef, r.Status)
	}
	if len(r.StatusHistory) == 0 {
		return fail("empty status history")
	}
	if last := r.StatusHistory[len(r.StatusHistory)-1]; last.To != r.Status {
		return fail("history ends in %s but status is %s", last.To, r.Status)
	}
	return nil
}

// EventLog is a side-channel audit record for things that are not status
// changes, such as provisioning outcomes.
type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListFilter narrows admin listings. Zero values mean no filter.
type ListFilter struct {
	Statuses []Status
	Limit    int
	Offset   int
}

// Normalized applies the default and maximum page size.
func (f ListFilter) Normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
