package reservation

import (
	"fmt"
	"time"
)

type Action string

const (
	ActionApprove        Action = "approve"
	ActionRequestChange  Action = "request_change"
	ActionReject         Action = "reject"
	ActionUndoApproval   Action = "undo_approval"
	ActionMarkCompleted  Action = "mark_completed"
	ActionMarkNoShow     Action = "mark_no_show"
	ActionResubmit       Action = "resubmit"
	ActionAcceptProposal Action = "accept_proposal"
)

// AllActions lists every action the state machine knows.
var AllActions = []Action{
	ActionApprove,
	ActionRequestChange,
	ActionReject,
	ActionUndoApproval,
	ActionMarkCompleted,
	ActionMarkNoShow,
	ActionResubmit,
	ActionAcceptProposal,
}

// transitions maps each action to the statuses it may be taken from.
// Terminal statuses appear in no entry.
var transitions = map[Action]map[Status]bool{
	ActionApprove:        set(StatusRequested, StatusNeedsChange, StatusRescheduled),
	ActionRequestChange:  set(StatusRequested, StatusApproved, StatusRescheduled),
	ActionReject:         set(StatusRequested, StatusNeedsChange, StatusRescheduled),
	ActionUndoApproval:   set(StatusApproved),
	ActionMarkCompleted:  set(StatusApproved),
	ActionMarkNoShow:     set(StatusApproved),
	ActionResubmit:       set(StatusNeedsChange),
	ActionAcceptProposal: set(StatusNeedsChange),
}

func set(statuses ...Status) map[Status]bool {
	m := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		m[s] = true
	}
	return m
}

// Allows reports whether action may be taken from status.
func Allows(action Action, from Status) bool {
	return transitions[action][from]
}

// CanApply returns a *TransitionError when action is not allowed from the current status.
func (r *Reservation) CanApply(action Action) error {
	if !Allows(action, r.Status) {
		return &TransitionError{Action: action, Current: r.Status}
	}
	return nil
}

func (r *Reservation) moveTo(to Status, now time.Time, actor string) {
	now = now.UTC()
	r.StatusHistory = append(r.StatusHistory, StatusChange{From: r.Status, To: to, At: now, Actor: actor})
	r.Status = to
	r.StatusChangedAt = now
}

// CanApprove checks the approve guard without changing anything. The service
// calls it before provisioning a meeting.
func (r *Reservation) CanApprove(chosen time.Time, durationMinutes int) error {
	if err := r.CanApply(ActionApprove); err != nil {
		return err
	}
	if durationMinutes <= 0 {
		return invalid("duration_minutes", "must be positive, got %d", durationMinutes)
	}
	if !r.RequestedSlots.Contains(chosen) && !r.ClinicProposedSlots.Contains(chosen) {
		return fmt.Errorf("%w: %s", ErrSlotNotProposed, chosen.UTC().Format(time.RFC3339))
	}
	return nil
}

// ApplyApprove confirms chosen and records the meeting provisioned for it.
// The status held before approval is kept for UndoApproval.
func (r *Reservation) ApplyApprove(chosen time.Time, durationMinutes int, ref MeetingRef, now time.Time, actor string) error {
	if err := r.CanApprove(chosen, durationMinutes); err != nil {
		return err
	}
	return r.confirm(chosen, durationMinutes, ref, now, actor)
}

// CanAcceptProposal is the patient-side approve: only clinic proposals qualify.
func (r *Reservation) CanAcceptProposal(chosen time.Time, durationMinutes int) error {
	if err := r.CanApply(ActionAcceptProposal); err != nil {
		return err
	}
	if durationMinutes <= 0 {
		return invalid("duration_minutes", "must be positive, got %d", durationMinutes)
	}
	if !r.ClinicProposedSlots.Contains(chosen) {
		return fmt.Errorf("%w: %s is not one of the clinic's proposals", ErrSlotNotProposed, chosen.UTC().Format(time.RFC3339))
	}
	return nil
}

func (r *Reservation) ApplyAcceptProposal(chosen time.Time, durationMinutes int, ref MeetingRef, now time.Time, actor string) error {
	if err := r.CanAcceptProposal(chosen, durationMinutes); err != nil {
		return err
	}
	return r.confirm(chosen, durationMinutes, ref, now, actor)
}

func (r *Reservation) confirm(chosen time.Time, durationMinutes int, ref MeetingRef, now time.Time, actor string) error {
	if ref == "" {
		return fmt.Errorf("%w: approve without a meeting ref", ErrInvariantViolation)
	}
	at := chosen.UTC()
	r.PreApprovalStatus = r.Status
	r.ConfirmedAt = &at
	r.ConfirmedDurationMinutes = durationMinutes
	r.MeetingRef = ref
	r.moveTo(StatusApproved, now, actor)
	return nil
}

// ApplyRequestChange replaces the clinic's proposals wholesale. Coming from
// approved, the confirmation is dropped; the caller revokes the meeting first.
func (r *Reservation) ApplyRequestChange(proposed SlotSet, now time.Time, actor string) error {
	if err := r.CanApply(ActionRequestChange); err != nil {
		return err
	}
	if err := proposed.validate(false); err != nil {
		return err
	}
	if r.Status == StatusApproved {
		r.clearConfirmation()
	}
	r.ClinicProposedSlots = proposed.clone()
	r.moveTo(StatusNeedsChange, now, actor)
	return nil
}

// ApplyResubmit records the patient's new requested times in answer to a change request.
func (r *Reservation) ApplyResubmit(requested SlotSet, now time.Time, actor string) error {
	if err := r.CanApply(ActionResubmit); err != nil {
		return err
	}
	if err := requested.validate(false); err != nil {
		return err
	}
	r.RequestedSlots = requested.clone()
	r.moveTo(StatusRescheduled, now, actor)
	return nil
}

func (r *Reservation) ApplyReject(reasonCode, reasonText string, now time.Time, actor string) error {
	if err := r.CanApply(ActionReject); err != nil {
		return err
	}
	r.CancelReasonCode = reasonCode
	r.CancelReasonText = reasonText
	r.moveTo(StatusRejected, now, actor)
	return nil
}

// ApplyUndoApproval returns to the status captured at approval time.
func (r *Reservation) ApplyUndoApproval(now time.Time, actor string) error {
	if err := r.CanApply(ActionUndoApproval); err != nil {
		return err
	}
	prior := r.PreApprovalStatus
	if !Allows(ActionApprove, prior) {
		return fmt.Errorf("%w: reservation %s: pre-approval status %q", ErrInvariantViolation, r.ID, prior)
	}
	r.clearConfirmation()
	r.moveTo(prior, now, actor)
	return nil
}

// ApplyMarkCompleted keeps the confirmed time for the record and releases the meeting ref.
func (r *Reservation) ApplyMarkCompleted(now time.Time, actor string) error {
	if err := r.CanApply(ActionMarkCompleted); err != nil {
		return err
	}
	r.MeetingRef = ""
	r.PreApprovalStatus = ""
	r.moveTo(StatusCompleted, now, actor)
	return nil
}

func (r *Reservation) ApplyMarkNoShow(now time.Time, actor string) error {
	if err := r.CanApply(ActionMarkNoShow); err != nil {
		return err
	}
	r.MeetingRef = ""
	r.PreApprovalStatus = ""
	r.moveTo(StatusNoShow, now, actor)
	return nil
}

func (r *Reservation) clearConfirmation() {
	r.ConfirmedAt = nil
	r.ConfirmedDurationMinutes = 0
	r.MeetingRef = ""
	r.PreApprovalStatus = ""
}
