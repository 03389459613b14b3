package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

const (
	slotKindRequested = "requested"
	slotKindProposed  = "proposed"
)

const reservationColumns = `
	id, status, pre_approval_status, confirmed_at, confirmed_duration_minutes,
	meeting_ref, cancel_reason_code, cancel_reason_text, status_changed_at,
	created_at, version`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var preApproval, meetingRef, reasonCode, reasonText *string
	var confirmedAt *time.Time

	err := row.Scan(
		&r.ID,
		&r.Status,
		&preApproval,
		&confirmedAt,
		&r.ConfirmedDurationMinutes,
		&meetingRef,
		&reasonCode,
		&reasonText,
		&r.StatusChangedAt,
		&r.CreatedAt,
		&r.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if confirmedAt != nil {
		at := confirmedAt.UTC()
		r.ConfirmedAt = &at
	}
	r.PreApprovalStatus = Status(deref(preApproval))
	r.MeetingRef = MeetingRef(deref(meetingRef))
	r.CancelReasonCode = deref(reasonCode)
	r.CancelReasonText = deref(reasonText)
	r.StatusChangedAt = r.StatusChangedAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// children holds the rows loaded from the slot and history tables.
type children struct {
	requested []SlotCandidate
	proposed  []SlotCandidate
	history   []StatusChange
}

func (r *PgRepository) loadChildren(ctx context.Context, q querier, ids []uuid.UUID) (map[uuid.UUID]*children, error) {
	out := make(map[uuid.UUID]*children, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		out[id] = &children{}
		keys = append(keys, id.String())
	}

	rows, err := q.Query(ctx, `
		SELECT reservation_id, kind, rank, local_time, source_timezone, start_at
		FROM reservation_slots
		WHERE reservation_id = ANY($1::uuid[])
		ORDER BY reservation_id, kind, rank
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var kind, local string
		var c SlotCandidate
		if err := rows.Scan(&id, &kind, &c.Rank, &local, &c.SourceTimezone, &c.Start); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		c.Local, err = tzconv.ParseLocalDateTime(local)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: reservation %s: %v", ErrInvariantViolation, id, err)
		}
		c.Start = c.Start.UTC()
		ch := out[id]
		if kind == slotKindProposed {
			ch.proposed = append(ch.proposed, c)
		} else {
			ch.requested = append(ch.requested, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT reservation_id, from_status, to_status, at, actor
		FROM reservation_status_history
		WHERE reservation_id = ANY($1::uuid[])
		ORDER BY reservation_id, seq
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var from *string
		var h StatusChange
		if err := rows.Scan(&id, &from, &h.To, &h.At, &h.Actor); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.From = Status(deref(from))
		h.At = h.At.UTC()
		out[id].history = append(out[id].history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	return out, nil
}

func (c *children) attach(r *Reservation) {
	r.RequestedSlots = RestoreSlotSet(c.requested)
	r.ClinicProposedSlots = RestoreSlotSet(c.proposed)
	r.StatusHistory = c.history
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, res *Reservation) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (`+reservationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, res.ID, res.Status, nullable(string(res.PreApprovalStatus)), res.ConfirmedAt,
			res.ConfirmedDurationMinutes, nullable(string(res.MeetingRef)),
			nullable(res.CancelReasonCode), nullable(res.CancelReasonText),
			res.StatusChangedAt, res.CreatedAt, res.Version)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		if err := writeSlots(ctx, tx, res); err != nil {
			return err
		}
		return appendHistory(ctx, tx, res)
	})
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	res, err := scanReservation(row)
	if err != nil {
		return nil, err
	}

	ch, err := r.loadChildren(ctx, r.pool, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	ch[id].attach(res)
	return res, nil
}

// Update is a compare-and-swap on version. Slots are rewritten, history rows
// already stored are left alone.
func (r *PgRepository) Update(ctx context.Context, res *Reservation, expectedVersion int64) error {
	var newVersion int64

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE reservations
			SET status = $2,
			    pre_approval_status = $3,
			    confirmed_at = $4,
			    confirmed_duration_minutes = $5,
			    meeting_ref = $6,
			    cancel_reason_code = $7,
			    cancel_reason_text = $8,
			    status_changed_at = $9,
			    version = version + 1
			WHERE id = $1
			  AND version = $10
			RETURNING version
		`, res.ID, res.Status, nullable(string(res.PreApprovalStatus)), res.ConfirmedAt,
			res.ConfirmedDurationMinutes, nullable(string(res.MeetingRef)),
			nullable(res.CancelReasonCode), nullable(res.CancelReasonText),
			res.StatusChangedAt, expectedVersion).Scan(&newVersion)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missOrConflict(ctx, tx, res.ID)
			}
			return fmt.Errorf("update reservation: %w", err)
		}

		var stored int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM reservation_status_history WHERE reservation_id = $1
		`, res.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count history: %w", err)
		}
		if len(res.StatusHistory) < stored {
			return fmt.Errorf("%w: status history shrank from %d to %d entries",
				ErrInvariantViolation, stored, len(res.StatusHistory))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM reservation_slots WHERE reservation_id = $1`, res.ID); err != nil {
			return fmt.Errorf("clear slots: %w", err)
		}
		if err := writeSlots(ctx, tx, res); err != nil {
			return err
		}
		return appendHistory(ctx, tx, res)
	})
	if err != nil {
		return err
	}

	res.Version = newVersion
	return nil
}

func (r *PgRepository) missOrConflict(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check reservation: %w", err)
	}
	if !exists {
		return ErrReservationNotFound
	}
	return ErrVersionConflict
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]Reservation, error) {
	filter = filter.Normalized()
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, statuses, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reservation
	var ids []uuid.UUID
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *res)
		ids = append(ids, res.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	ch, err := r.loadChildren(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		ch[result[i].ID].attach(&result[i])
	}
	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func writeSlots(ctx context.Context, tx pgx.Tx, res *Reservation) error {
	batch := &pgx.Batch{}
	queue := func(kind string, set SlotSet) {
		for _, c := range set.Slots() {
			batch.Queue(`
				INSERT INTO reservation_slots (reservation_id, kind, rank, local_time, source_timezone, start_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, res.ID, kind, c.Rank, c.Local.String(), c.SourceTimezone, c.Start.UTC())
		}
	}
	queue(slotKindRequested, res.RequestedSlots)
	queue(slotKindProposed, res.ClinicProposedSlots)

	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert slots: %w", err)
	}
	return nil
}

// appendHistory writes every entry keyed by position. Entries already stored
// hit the primary key and are skipped.
func appendHistory(ctx context.Context, tx pgx.Tx, res *Reservation) error {
	batch := &pgx.Batch{}
	for i, h := range res.StatusHistory {
		batch.Queue(`
			INSERT INTO reservation_status_history (reservation_id, seq, from_status, to_status, at, actor)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (reservation_id, seq) DO NOTHING
		`, res.ID, i+1, nullable(string(h.From)), h.To, h.At.UTC(), h.Actor)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
