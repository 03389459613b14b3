package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/availability"
	"github.com/hackgods/teleconsult-scheduling/internal/config"
	"github.com/hackgods/teleconsult-scheduling/internal/metrics"
	redisclient "github.com/hackgods/teleconsult-scheduling/internal/redis"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

const (
	EventMeetingProvisioned    = "MEETING_PROVISIONED"
	EventMeetingRevoked        = "MEETING_REVOKED"
	EventMeetingReleased       = "MEETING_RELEASED"
	EventProvisioningFailed    = "PROVISIONING_FAILED"
	EventTransitionRolledBack  = "TRANSITION_ROLLED_BACK"
	EventRollbackFailed        = "ROLLBACK_FAILED"
)

// provisioningAttempts is the first call plus one retry.
const provisioningAttempts = 2

// LocalSlotInput is one ranked wall-clock time as typed by the submitter.
type LocalSlotInput struct {
	Rank  int
	Local tzconv.LocalDateTime
}

// ProposeInput is a set of local times expressed in one IANA zone.
type ProposeInput struct {
	Timezone string
	Slots    []LocalSlotInput
}

type Service struct {
	repo        Repository
	locker      redisclient.Locker
	provisioner Provisioner
	notifier    Notifier
	calendar    *availability.Calendar
	metrics     *metrics.Metrics
	logger      *zap.Logger
	cfg         config.Config
	now         func() time.Time
}

type Option func(*Service)

func WithCalendar(c *availability.Calendar) Option {
	return func(s *Service) { s.calendar = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, provisioner Provisioner, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		locker:      locker,
		provisioner: provisioner,
		notifier:    noopNotifier{},
		calendar:    availability.DefaultCalendar(),
		logger:      zap.NewNop(),
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProposeSlots converts the patient's local times, checks them against
// clinic hours and creates a reservation in requested.
func (s *Service) ProposeSlots(ctx context.Context, in ProposeInput) (*Reservation, error) {
	slots, err := s.buildSlots(in)
	if err != nil {
		return nil, err
	}

	actor := ActorFrom(ctx, ActorPatient)
	r, err := NewReservation(uuid.New(), slots, s.now(), actor)
	if err != nil {
		return nil, err
	}
	if err := r.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	s.metrics.ObserveTransition("propose", "ok")
	s.logger.Info("reservation requested",
		zap.String("reservation_id", r.ID.String()),
		zap.String("timezone", in.Timezone),
		zap.Int("slots", slots.Len()))
	s.notify(ctx, "propose", "", r)

	return r, nil
}

// Approve confirms chosen (which must be one of the proposed instants) and
// provisions the meeting. durationMinutes of zero uses the configured default.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, chosen time.Time, durationMinutes int) (*Reservation, error) {
	if durationMinutes == 0 {
		durationMinutes = s.cfg.DefaultDurationMinutes
	}
	actor := ActorFrom(ctx, ActorClinic)

	return s.transition(ctx, id, ActionApprove, func(ctx context.Context, cur *Reservation) (plan, error) {
		if err := cur.CanApprove(chosen, durationMinutes); err != nil {
			return plan{}, err
		}
		ref, err := s.createMeeting(ctx, cur.ID, chosen, durationMinutes)
		if err != nil {
			return plan{}, err
		}
		next := cur.Clone()
		if err := next.ApplyApprove(chosen, durationMinutes, ref, s.now(), actor); err != nil {
			return plan{created: ref}, err
		}
		return plan{next: next, created: ref}, nil
	})
}

// AcceptProposal lets the patient take one of the clinic's counter-proposals.
func (s *Service) AcceptProposal(ctx context.Context, id uuid.UUID, chosen time.Time) (*Reservation, error) {
	durationMinutes := s.cfg.DefaultDurationMinutes
	actor := ActorFrom(ctx, ActorPatient)

	return s.transition(ctx, id, ActionAcceptProposal, func(ctx context.Context, cur *Reservation) (plan, error) {
		if err := cur.CanAcceptProposal(chosen, durationMinutes); err != nil {
			return plan{}, err
		}
		ref, err := s.createMeeting(ctx, cur.ID, chosen, durationMinutes)
		if err != nil {
			return plan{}, err
		}
		next := cur.Clone()
		if err := next.ApplyAcceptProposal(chosen, durationMinutes, ref, s.now(), actor); err != nil {
			return plan{created: ref}, err
		}
		return plan{next: next, created: ref}, nil
	})
}

// RequestChange replaces the clinic's counter-proposals. An approved
// reservation also loses its meeting.
func (s *Service) RequestChange(ctx context.Context, id uuid.UUID, in ProposeInput) (*Reservation, error) {
	actor := ActorFrom(ctx, ActorClinic)

	return s.transition(ctx, id, ActionRequestChange, func(ctx context.Context, cur *Reservation) (plan, error) {
		if err := cur.CanApply(ActionRequestChange); err != nil {
			return plan{}, err
		}
		proposed, err := s.buildSlots(in)
		if err != nil {
			return plan{}, err
		}

		next := cur.Clone()
		if err := next.ApplyRequestChange(proposed, s.now(), actor); err != nil {
			return plan{}, err
		}
		p := plan{next: next}
		if cur.Status == StatusApproved {
			p.revoke = cur.MeetingRef
		}
		return p, nil
	})
}

// Resubmit records the patient's new preferred times after a change request.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID, in ProposeInput) (*Reservation, error) {
	actor := ActorFrom(ctx, ActorPatient)

	return s.transition(ctx, id, ActionResubmit, func(ctx context.Context, cur *Reservation) (plan, error) {
		if err := cur.CanApply(ActionResubmit); err != nil {
			return plan{}, err
		}
		requested, err := s.buildSlots(in)
		if err != nil {
			return plan{}, err
		}
		next := cur.Clone()
		if err := next.ApplyResubmit(requested, s.now(), actor); err != nil {
			return plan{}, err
		}
		return plan{next: next}, nil
	})
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, reasonCode, reasonText string) (*Reservation, error) {
	actor := ActorFrom(ctx, ActorClinic)

	return s.transition(ctx, id, ActionReject, func(_ context.Context, cur *Reservation) (plan, error) {
		next := cur.Clone()
		if err := next.ApplyReject(reasonCode, reasonText, s.now(), actor); err != nil {
			return plan{}, err
		}
		return plan{next: next}, nil
	})
}

// UndoApproval revokes the meeting and returns to the status held before approval.
func (s *Service) UndoApproval(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	actor := ActorFrom(ctx, ActorClinic)

	return s.transition(ctx, id, ActionUndoApproval, func(_ context.Context, cur *Reservation) (plan, error) {
		next := cur.Clone()
		if err := next.ApplyUndoApproval(s.now(), actor); err != nil {
			return plan{}, err
		}
		return plan{next: next, revoke: cur.MeetingRef}, nil
	})
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	actor := ActorFrom(ctx, ActorClinic)

	return s.transition(ctx, id, ActionMarkCompleted, func(_ context.Context, cur *Reservation) (plan, error) {
		next := cur.Clone()
		if err := next.ApplyMarkCompleted(s.now(), actor); err != nil {
			return plan{}, err
		}
		return plan{next: next, released: cur.MeetingRef}, nil
	})
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	actor := ActorFrom(ctx, ActorClinic)

	return s.transition(ctx, id, ActionMarkNoShow, func(_ context.Context, cur *Reservation) (plan, error) {
		next := cur.Clone()
		if err := next.ApplyMarkNoShow(s.now(), actor); err != nil {
			return plan{}, err
		}
		return plan{next: next, released: cur.MeetingRef}, nil
	})
}

// AvailabilityForDate returns the bookable envelope of a local day, nil when closed.
func (s *Service) AvailabilityForDate(_ context.Context, date tzconv.LocalDate, tz string) (*availability.Range, error) {
	r, err := s.calendar.RangeForDate(date, tz)
	if errors.Is(err, tzconv.ErrUnknownZone) {
		return nil, invalid("tz", "unknown timezone %q", tz)
	}
	return r, err
}

// AvailabilityRangesForDate returns every bookable piece of a local day.
func (s *Service) AvailabilityRangesForDate(_ context.Context, date tzconv.LocalDate, tz string) ([]availability.Range, error) {
	pieces, err := s.calendar.RangesForDate(date, tz)
	if errors.Is(err, tzconv.ErrUnknownZone) {
		return nil, invalid("tz", "unknown timezone %q", tz)
	}
	return pieces, err
}

// GetReservation is a lock-free read.
func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// ListReservations serves admin views without taking any lock.
func (s *Service) ListReservations(ctx context.Context, filter ListFilter) ([]Reservation, error) {
	out, err := s.repo.List(ctx, filter.Normalized())
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

func (s *Service) buildSlots(in ProposeInput) (SlotSet, error) {
	if len(in.Slots) > MaxSlots {
		return SlotSet{}, invalid("slots", "at most %d slots are allowed, got %d", MaxSlots, len(in.Slots))
	}

	candidates := make([]SlotCandidate, 0, len(in.Slots))
	for _, slot := range in.Slots {
		c, err := NewSlotCandidate(slot.Rank, slot.Local, in.Timezone)
		if err != nil {
			return SlotSet{}, err
		}
		if !s.calendar.IsAvailable(c.Start) {
			s.metrics.IncrementAvailabilityRejections()
			k := c.Start.In(tzconv.KST())
			return SlotSet{}, invalid("slots", "rank %d: %s %s is %s in Korea, outside clinic hours",
				c.Rank, c.Local, c.SourceTimezone, k.Format("Mon 15:04 MST"))
		}
		candidates = append(candidates, c)
	}
	return BuildSlotSet(candidates)
}

// plan is a prepared transition. created names a meeting provisioned before
// the commit, revoke one to tear down after it.
type plan struct {
	next     *Reservation
	created  MeetingRef
	revoke   MeetingRef
	released MeetingRef
}

func lockKey(id uuid.UUID) string {
	return "reservation:" + id.String()
}

// transition runs one guarded change under the per-reservation lock: load,
// prepare on a clone, then commit with a version check. Meetings are created
// before the commit and revoked after it; a failure on either side undoes the
// other, so status and meeting never disagree once the lock is released.
func (s *Service) transition(ctx context.Context, id uuid.UUID, action Action, prepare func(context.Context, *Reservation) (plan, error)) (*Reservation, error) {
	var (
		result *Reservation
		from   Status
		p      plan
	)

	err := s.locker.WithLock(ctx, lockKey(id), func(lockCtx context.Context) error {
		cur, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		from = cur.Status

		p, err = prepare(lockCtx, cur)
		if err != nil {
			s.compensate(ctx, id, p, err)
			return err
		}
		if err := p.next.CheckInvariants(); err != nil {
			s.logger.Error("transition would break invariants",
				zap.String("reservation_id", id.String()),
				zap.String("action", string(action)),
				zap.Error(err))
			s.compensate(ctx, id, p, err)
			return err
		}
		if err := s.repo.Update(lockCtx, p.next, cur.Version); err != nil {
			s.compensate(ctx, id, p, err)
			if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrInvariantViolation) {
				return err
			}
			return fmt.Errorf("save reservation: %w", err)
		}
		if p.revoke != "" {
			if err := s.revokeMeeting(lockCtx, id, p.revoke); err != nil {
				s.rollback(ctx, cur, p.next, err)
				return err
			}
		}
		result = p.next
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrReservationBusy
		}
		s.metrics.ObserveTransition(string(action), outcome(err))
		return nil, err
	}

	s.metrics.ObserveTransition(string(action), "ok")
	s.logger.Info("reservation transitioned",
		zap.String("reservation_id", id.String()),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(result.Status)),
		zap.Int64("version", result.Version))

	if p.created != "" {
		s.logEvent(ctx, id, EventMeetingProvisioned, map[string]any{"meeting_ref": p.created})
	}
	if p.revoke != "" {
		s.logEvent(ctx, id, EventMeetingRevoked, map[string]any{"meeting_ref": p.revoke})
	}
	if p.released != "" {
		s.logEvent(ctx, id, EventMeetingReleased, map[string]any{"meeting_ref": p.released, "status": result.Status})
	}
	s.notify(ctx, string(action), from, result)

	return result, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if err := cur.CheckInvariants(); err != nil {
		s.logger.Error("stored reservation is corrupt, refusing to transition",
			zap.String("reservation_id", id.String()),
			zap.Error(err))
		return nil, err
	}
	return cur, nil
}

// compensate revokes a meeting created for a transition that will not commit.
func (s *Service) compensate(ctx context.Context, id uuid.UUID, p plan, cause error) {
	if p.created == "" {
		return
	}
	if err := s.revokeMeeting(context.WithoutCancel(ctx), id, p.created); err != nil {
		s.logger.Error("could not revoke meeting after failed commit",
			zap.String("reservation_id", id.String()),
			zap.String("meeting_ref", string(p.created)),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

// rollback restores prev after committed was stored but its meeting could not
// be revoked. History only grows, so the restore is recorded as a system entry.
func (s *Service) rollback(ctx context.Context, prev, committed *Reservation, cause error) {
	ctx = context.WithoutCancel(ctx)

	restored := prev.Clone()
	restored.StatusChangedAt = s.now().UTC()
	restored.StatusHistory = append(append([]StatusChange(nil), committed.StatusHistory...), StatusChange{
		From:  committed.Status,
		To:    prev.Status,
		At:    restored.StatusChangedAt,
		Actor: ActorSystem,
	})

	payload := map[string]any{
		"meeting_ref": prev.MeetingRef,
		"from_status": committed.Status,
		"to_status":   prev.Status,
		"cause":       cause.Error(),
	}
	if err := s.repo.Update(ctx, restored, committed.Version); err != nil {
		s.logger.Error("could not roll back status after failed revoke",
			zap.String("reservation_id", prev.ID.String()),
			zap.String("meeting_ref", string(prev.MeetingRef)),
			zap.NamedError("cause", cause),
			zap.Error(err))
		payload["error"] = err.Error()
		s.logEvent(ctx, prev.ID, EventRollbackFailed, payload)
		return
	}

	s.logger.Warn("status change rolled back, meeting still live",
		zap.String("reservation_id", prev.ID.String()),
		zap.String("status", string(prev.Status)),
		zap.Error(cause))
	s.logEvent(ctx, prev.ID, EventTransitionRolledBack, payload)
}

func (s *Service) createMeeting(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (MeetingRef, error) {
	var ref MeetingRef
	err := s.withRetry(ctx, id, "create", func(callCtx context.Context) error {
		var err error
		ref, err = s.provisioner.CreateMeeting(callCtx, MeetingRequest{
			ReservationID:   id,
			Start:           start.UTC(),
			DurationMinutes: durationMinutes,
		})
		if err == nil && ref == "" {
			err = errors.New("provisioner returned an empty meeting ref")
		}
		return err
	})
	return ref, err
}

func (s *Service) revokeMeeting(ctx context.Context, id uuid.UUID, ref MeetingRef) error {
	return s.withRetry(ctx, id, "revoke", func(callCtx context.Context) error {
		return s.provisioner.RevokeMeeting(callCtx, ref)
	})
}

// withRetry bounds each provisioning attempt by ProvisioningTimeout and
// retries once.
func (s *Service) withRetry(ctx context.Context, id uuid.UUID, op string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= provisioningAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProvisioningTimeout)
		start := time.Now()
		err := call(callCtx)
		cancel()
		s.metrics.ObserveProvisioning(op, err, time.Since(start))
		if err == nil {
			return nil
		}

		lastErr = err
		s.logger.Warn("provisioning call failed",
			zap.String("reservation_id", id.String()),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	s.logEvent(context.WithoutCancel(ctx), id, EventProvisioningFailed, map[string]any{
		"op":    op,
		"error": lastErr.Error(),
	})
	return fmt.Errorf("%w: %s meeting: %w", ErrProvisioningFailed, op, lastErr)
}

func (s *Service) notify(ctx context.Context, action string, from Status, r *Reservation) {
	ev := StatusChangedEvent{
		ReservationID:   r.ID,
		Action:          action,
		FromStatus:      from,
		ToStatus:        r.Status,
		Actor:           r.StatusHistory[len(r.StatusHistory)-1].Actor,
		ConfirmedAt:     r.ConfirmedAt,
		DurationMinutes: r.ConfirmedDurationMinutes,
		MeetingRef:      r.MeetingRef,
		ChangedAt:       r.StatusChangedAt,
	}
	if err := s.notifier.NotifyStatusChanged(ctx, ev); err != nil {
		s.metrics.IncrementNotificationFailures()
		s.logger.Warn("status notification failed",
			zap.String("reservation_id", r.ID.String()),
			zap.String("to", string(r.Status)),
			zap.Error(err))
	}
}

func (s *Service) logEvent(ctx context.Context, id uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	reservationID := id

	ev := EventLog{
		EventType:     eventType,
		ReservationID: &reservationID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("reservation_id", id.String()),
			zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrSlotNotProposed):
		return "slot_not_proposed"
	case errors.Is(err, ErrProvisioningFailed):
		return "provisioning_failed"
	case errors.Is(err, ErrReservationNotFound):
		return "not_found"
	case errors.Is(err, ErrReservationBusy), errors.Is(err, ErrVersionConflict):
		return "conflict"
	default:
		return "error"
	}
}
