package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-scheduling/internal/availability"
	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

type SlotRequest struct {
	Rank      int    `json:"rank"`
	LocalTime string `json:"local_time"` // "2025-12-21T10:00" in Timezone
}

// ProposeRequest is used by propose, request-change and resubmit.
type ProposeRequest struct {
	Timezone string        `json:"timezone"`
	Slots    []SlotRequest `json:"slots"`
}

type ApproveRequest struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

type AcceptRequest struct {
	Start time.Time `json:"start"`
}

type RejectRequest struct {
	ReasonCode string `json:"reason_code"`
	ReasonText string `json:"reason_text,omitempty"`
}

type SlotResponse struct {
	Rank           int       `json:"rank"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	LocalTime      string    `json:"local_time"`
	SourceTimezone string    `json:"source_timezone"`
	tzconv.Display
}

type StatusChangeResponse struct {
	From  reservation.Status `json:"from_status,omitempty"`
	To    reservation.Status `json:"to_status"`
	At    time.Time          `json:"at"`
	Actor string             `json:"actor"`
}

type ReservationResponse struct {
	ID                  uuid.UUID              `json:"id"`
	Status              reservation.Status     `json:"status"`
	StatusLabel         string                 `json:"status_label"`
	RequestedSlots      []SlotResponse         `json:"requested_slots"`
	ClinicProposedSlots []SlotResponse         `json:"clinic_proposed_slots"`
	ConfirmedAt         *time.Time             `json:"confirmed_at,omitempty"`
	ConfirmedEnd        *time.Time             `json:"confirmed_end,omitempty"`
	DurationMinutes     int                    `json:"duration_minutes,omitempty"`
	MeetingRef          string                 `json:"meeting_ref,omitempty"`
	CancelReasonCode    string                 `json:"cancel_reason_code,omitempty"`
	CancelReasonText    string                 `json:"cancel_reason_text,omitempty"`
	StatusChangedAt     time.Time              `json:"status_changed_at"`
	CreatedAt           time.Time              `json:"created_at"`
	Version             int64                  `json:"version"`
	History             []StatusChangeResponse `json:"history"`
}

type ListResponse struct {
	Items  []ReservationResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type RangeResponse struct {
	availability.Range
	StartText string `json:"start_text"`
	EndText   string `json:"end_text"`
}

type AvailabilityResponse struct {
	Date      string          `json:"date"`
	Timezone  string          `json:"timezone"`
	Available bool            `json:"available"`
	Envelope  *RangeResponse  `json:"envelope,omitempty"`
	Ranges    []RangeResponse `json:"ranges"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
	Status  string `json:"current_status,omitempty"`
}

func toSlotResponses(set reservation.SlotSet, durationMinutes int) []SlotResponse {
	out := make([]SlotResponse, 0, set.Len())
	for _, c := range set.Slots() {
		// zone was validated when the slot was built
		display, _ := tzconv.DisplayPair(c.Start, c.SourceTimezone)
		out = append(out, SlotResponse{
			Rank:           c.Rank,
			Start:          c.Start,
			End:            c.Start.Add(time.Duration(durationMinutes) * time.Minute),
			LocalTime:      c.Local.String(),
			SourceTimezone: c.SourceTimezone,
			Display:        display,
		})
	}
	return out
}

func toReservationResponse(r *reservation.Reservation, defaultDuration int) ReservationResponse {
	duration := defaultDuration
	if r.ConfirmedDurationMinutes > 0 {
		duration = r.ConfirmedDurationMinutes
	}

	resp := ReservationResponse{
		ID:                  r.ID,
		Status:              r.Status,
		StatusLabel:         r.Status.Label(),
		RequestedSlots:      toSlotResponses(r.RequestedSlots, duration),
		ClinicProposedSlots: toSlotResponses(r.ClinicProposedSlots, duration),
		ConfirmedAt:         r.ConfirmedAt,
		DurationMinutes:     r.ConfirmedDurationMinutes,
		MeetingRef:          string(r.MeetingRef),
		CancelReasonCode:    r.CancelReasonCode,
		CancelReasonText:    r.CancelReasonText,
		StatusChangedAt:     r.StatusChangedAt,
		CreatedAt:           r.CreatedAt,
		Version:             r.Version,
	}
	if r.ConfirmedAt != nil {
		end := r.ConfirmedEnd()
		resp.ConfirmedEnd = &end
	}
	for _, h := range r.StatusHistory {
		resp.History = append(resp.History, StatusChangeResponse(h))
	}
	return resp
}

func toRangeResponse(rng availability.Range) RangeResponse {
	const layout = "2006-01-02 (Mon) 15:04 MST"
	return RangeResponse{
		Range:     rng,
		StartText: rng.Start.Format(layout),
		EndText:   rng.End.Format(layout),
	}
}
