package provisioning

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
)

// Local mints meeting refs in process. It stands in for the real service in
// development when PROVISIONING_URL is empty.
type Local struct {
	mu       sync.Mutex
	meetings map[reservation.MeetingRef]reservation.MeetingRequest
	logger   *zap.Logger
}

func NewLocal(logger *zap.Logger) *Local {
	return &Local{
		meetings: make(map[reservation.MeetingRef]reservation.MeetingRequest),
		logger:   logger,
	}
}

func (l *Local) CreateMeeting(ctx context.Context, req reservation.MeetingRequest) (reservation.MeetingRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := reservation.MeetingRef("local-" + uuid.NewString())

	l.mu.Lock()
	l.meetings[ref] = req
	l.mu.Unlock()

	l.logger.Info("local meeting created",
		zap.String("meeting_ref", string(ref)),
		zap.String("reservation_id", req.ReservationID.String()),
		zap.Time("start", req.Start))
	return ref, nil
}

func (l *Local) RevokeMeeting(ctx context.Context, ref reservation.MeetingRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.meetings, ref)
	l.mu.Unlock()

	l.logger.Info("local meeting revoked", zap.String("meeting_ref", string(ref)))
	return nil
}

// Active reports whether ref has been created and not revoked.
func (l *Local) Active(ref reservation.MeetingRef) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.meetings[ref]
	return ok
}
