package provisioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
)

func TestClient_CreateMeeting(t *testing.T) {
	id := uuid.New()
	start := time.Date(2025, 12, 21, 3, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/meetings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var body createMeetingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, id.String(), body.ReservationID)
		assert.True(t, start.Equal(body.StartAt))
		assert.Equal(t, 30, body.DurationMinutes)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createMeetingResponse{MeetingRef: "mtg-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	ref, err := c.CreateMeeting(context.Background(), reservation.MeetingRequest{
		ReservationID:   id,
		Start:           start,
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, reservation.MeetingRef("mtg-1"), ref)
}

func TestClient_CreateMeetingServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "capacity exhausted", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").CreateMeeting(context.Background(), reservation.MeetingRequest{ReservationID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "capacity exhausted")
}

func TestClient_CreateMeetingHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, "").CreateMeeting(ctx, reservation.MeetingRequest{ReservationID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_RevokeMeeting(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"no content", http.StatusNoContent, false},
		{"already gone", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/meetings/mtg-9", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, "").RevokeMeeting(context.Background(), "mtg-9")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocal_CreateAndRevoke(t *testing.T) {
	l := NewLocal(zap.NewNop())

	ref, err := l.CreateMeeting(context.Background(), reservation.MeetingRequest{ReservationID: uuid.New()})
	require.NoError(t, err)
	assert.Contains(t, string(ref), "local-")
	assert.True(t, l.Active(ref))

	require.NoError(t, l.RevokeMeeting(context.Background(), ref))
	assert.False(t, l.Active(ref))
}
