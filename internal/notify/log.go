package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
)

// LogNotifier writes status changes to the log. Used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyStatusChanged(_ context.Context, ev reservation.StatusChangedEvent) error {
	fields := []zap.Field{
		zap.String("reservation_id", ev.ReservationID.String()),
		zap.String("action", ev.Action),
		zap.String("from", string(ev.FromStatus)),
		zap.String("to", string(ev.ToStatus)),
		zap.String("actor", ev.Actor),
	}
	if ev.ConfirmedAt != nil {
		fields = append(fields, zap.Time("confirmed_at", *ev.ConfirmedAt), zap.Int("duration_minutes", ev.DurationMinutes))
	}
	n.logger.Info("reservation status changed", fields...)
	return nil
}
