package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
)

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	at := time.Date(2025, 12, 21, 3, 0, 0, 0, time.UTC)
	err := n.NotifyStatusChanged(context.Background(), reservation.StatusChangedEvent{
		ReservationID:   uuid.New(),
		Action:          "approve",
		FromStatus:      reservation.StatusRequested,
		ToStatus:        reservation.StatusApproved,
		Actor:           reservation.ActorClinic,
		ConfirmedAt:     &at,
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "reservation status changed", entry.Message)
	assert.Equal(t, "approved", entry.ContextMap()["to"])
	assert.Equal(t, int64(30), entry.ContextMap()["duration_minutes"])
}
