package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

type handlers struct {
	svc             Service
	logger          *zap.Logger
	defaultDuration int
}

func (h *handlers) propose(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeProposal(w, r)
	if !ok {
		return
	}

	res, err := h.svc.ProposeSlots(r.Context(), in)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReservationResponse(res, h.defaultDuration))
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter reservation.ListFilter

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := reservation.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	items, err := h.svc.ListReservations(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	page := filter.Normalized()
	resp := ListResponse{Items: make([]ReservationResponse, 0, len(items)), Limit: page.Limit, Offset: page.Offset}
	for i := range items {
		resp.Items = append(resp.Items, toReservationResponse(&items[i], h.defaultDuration))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}

	res, err := h.svc.GetReservation(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toReservationResponse(res, h.defaultDuration))
}

func (h *handlers) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	h.transition(w, r, &req, func(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
		if req.Start.IsZero() {
			return nil, &reservation.ValidationError{Field: "start", Reason: "is required"}
		}
		return h.svc.Approve(ctx, id, req.Start, req.DurationMinutes)
	})
}

func (h *handlers) accept(w http.ResponseWriter, r *http.Request) {
	var req AcceptRequest
	h.transition(w, r, &req, func(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
		if req.Start.IsZero() {
			return nil, &reservation.ValidationError{Field: "start", Reason: "is required"}
		}
		return h.svc.AcceptProposal(ctx, id, req.Start)
	})
}

func (h *handlers) reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	h.transition(w, r, &req, func(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
		return h.svc.Reject(ctx, id, req.ReasonCode, req.ReasonText)
	})
}

func (h *handlers) requestChange(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	h.transition(w, r, &req, func(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
		in, err := toProposeInput(req)
		if err != nil {
			return nil, err
		}
		return h.svc.RequestChange(ctx, id, in)
	})
}

func (h *handlers) resubmit(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	h.transition(w, r, &req, func(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
		in, err := toProposeInput(req)
		if err != nil {
			return nil, err
		}
		return h.svc.Resubmit(ctx, id, in)
	})
}

func (h *handlers) undoApproval(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, h.svc.UndoApproval)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, h.svc.MarkCompleted)
}

func (h *handlers) noShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, h.svc.MarkNoShow)
}

// transition parses the id and optional body, then runs fn and writes the result.
func (h *handlers) transition(w http.ResponseWriter, r *http.Request, body any, fn func(context.Context, uuid.UUID) (*reservation.Reservation, error)) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}
	if body != nil {
		// an empty body leaves every field at its zero value
		if err := json.NewDecoder(r.Body).Decode(body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}

	res, err := fn(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toReservationResponse(res, h.defaultDuration))
}

func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tz := q.Get("tz")
	if tz == "" {
		writeError(w, http.StatusBadRequest, "invalid_timezone", "tz is required")
		return
	}
	date, err := tzconv.ParseLocalDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	pieces, err := h.svc.AvailabilityRangesForDate(r.Context(), date, tz)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	envelope, err := h.svc.AvailabilityForDate(r.Context(), date, tz)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := AvailabilityResponse{
		Date:      date.String(),
		Timezone:  tz,
		Available: len(pieces) > 0,
		Ranges:    make([]RangeResponse, 0, len(pieces)),
	}
	for _, p := range pieces {
		resp.Ranges = append(resp.Ranges, toRangeResponse(p))
	}
	if envelope != nil {
		env := toRangeResponse(*envelope)
		resp.Envelope = &env
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) decodeProposal(w http.ResponseWriter, r *http.Request) (reservation.ProposeInput, bool) {
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return reservation.ProposeInput{}, false
	}
	in, err := toProposeInput(req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return reservation.ProposeInput{}, false
	}
	return in, true
}

func toProposeInput(req ProposeRequest) (reservation.ProposeInput, error) {
	in := reservation.ProposeInput{Timezone: req.Timezone}
	for _, s := range req.Slots {
		local, err := tzconv.ParseLocalDateTime(s.LocalTime)
		if err != nil {
			return in, &reservation.ValidationError{Field: "slots", Reason: "local_time must be YYYY-MM-DDTHH:MM"}
		}
		in.Slots = append(in.Slots, reservation.LocalSlotInput{Rank: s.Rank, Local: local})
	}
	return in, nil
}

func reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *reservation.ValidationError
	var terr *reservation.TransitionError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Details: verr.Reason, Field: verr.Field})
	case errors.As(err, &terr):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "invalid_transition", Details: err.Error(), Status: string(terr.Current)})
	case errors.Is(err, reservation.ErrSlotNotProposed):
		writeError(w, http.StatusUnprocessableEntity, "slot_not_proposed", err.Error())
	case errors.Is(err, reservation.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, reservation.ErrReservationBusy):
		writeError(w, http.StatusConflict, "reservation_busy", "reservation is being modified, please retry shortly")
	case errors.Is(err, reservation.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict", "reservation changed concurrently, reload and retry")
	case errors.Is(err, reservation.ErrProvisioningFailed):
		h.logger.Warn("provisioning failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusBadGateway, "provisioning_failed", "the video meeting could not be arranged, please retry")
	default:
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
