package tzconv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLocal(t *testing.T, s string) LocalDateTime {
	t.Helper()
	dt, err := ParseLocalDateTime(s)
	require.NoError(t, err)
	return dt
}

func TestToUTC_RoundTrip(t *testing.T) {
	zones := []string{"America/Los_Angeles", "Asia/Tokyo", "Asia/Seoul", "Europe/London", "Australia/Sydney", "America/Sao_Paulo"}
	locals := []string{"2025-01-01T00:00", "2025-03-08T19:00", "2025-03-10T19:00", "2025-06-30T23:59", "2025-11-02T12:00", "2025-12-31T23:30"}

	for _, tz := range zones {
		for _, raw := range locals {
			local := mustLocal(t, raw)
			utc, err := ToUTC(local, tz)
			require.NoError(t, err, "%s %s", raw, tz)

			back, err := ToZone(utc, tz)
			require.NoError(t, err)
			assert.Equal(t, local, back, "%s %s", raw, tz)
		}
	}
}

func TestToUTC_DSTChangesOffset(t *testing.T) {
	before, err := ToUTC(mustLocal(t, "2025-03-08T19:00"), "America/Los_Angeles")
	require.NoError(t, err)
	after, err := ToUTC(mustLocal(t, "2025-03-10T19:00"), "America/Los_Angeles")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC), before)
	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), after)
	// two calendar days apart on the wall clock, one hour short in real time
	assert.Equal(t, 47*time.Hour, after.Sub(before))
}

func TestToUTC_Gap(t *testing.T) {
	_, err := ToUTC(mustLocal(t, "2025-03-09T02:30"), "America/Los_Angeles")
	assert.ErrorIs(t, err, ErrNonexistentLocalTime)
}

func TestToUTC_OverlapPicksEarlierInstant(t *testing.T) {
	utc, err := ToUTC(mustLocal(t, "2025-11-02T01:30"), "America/Los_Angeles")
	require.NoError(t, err)
	// 01:30 PDT, not 01:30 PST
	assert.Equal(t, time.Date(2025, 11, 2, 8, 30, 0, 0, time.UTC), utc)
}

func TestToUTC_UnknownZone(t *testing.T) {
	_, err := ToUTC(mustLocal(t, "2025-11-02T01:30"), "Mars/Olympus_Mons")
	assert.ErrorIs(t, err, ErrUnknownZone)

	_, err = ToUTC(mustLocal(t, "2025-11-02T01:30"), "")
	assert.ErrorIs(t, err, ErrUnknownZone)
}

func TestToKST(t *testing.T) {
	utc, err := ToUTC(mustLocal(t, "2025-12-19T03:00"), "America/Los_Angeles")
	require.NoError(t, err)
	assert.Equal(t, mustLocal(t, "2025-12-19T20:00"), ToKST(utc))
}

func TestDisplayPair_CrossesYearBoundary(t *testing.T) {
	utc, err := ToUTC(mustLocal(t, "2025-12-31T19:00"), "America/Los_Angeles")
	require.NoError(t, err)

	d, err := DisplayPair(utc, "America/Los_Angeles")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-31 (Wed) 19:00 PST", d.User)
	assert.Equal(t, "2026-01-01 (Thu) 12:00 KST", d.Korea)
}

func TestDisplayPair_SummerAbbreviation(t *testing.T) {
	utc := time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)

	d, err := DisplayPair(utc, "America/Los_Angeles")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-30 (Mon) 20:00 PDT", d.User)
	assert.Equal(t, "2025-07-01 (Tue) 12:00 KST", d.Korea)
}

func TestDaySpan(t *testing.T) {
	loc, err := LoadZone("America/Los_Angeles")
	require.NoError(t, err)

	tests := []struct {
		date string
		want time.Duration
	}{
		{"2025-12-19", 24 * time.Hour},
		{"2025-03-09", 23 * time.Hour},
		{"2025-11-02", 25 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			d, err := ParseLocalDate(tt.date)
			require.NoError(t, err)
			start, end := DaySpan(d, loc)
			assert.Equal(t, tt.want, end.Sub(start))
		})
	}
}

func TestParseLocalDateTime(t *testing.T) {
	a, err := ParseLocalDateTime("2025-12-21 21:00")
	require.NoError(t, err)
	b, err := ParseLocalDateTime("2025-12-21T21:00")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "2025-12-21T21:00", a.String())

	_, err = ParseLocalDateTime("21:00")
	assert.Error(t, err)
}

func TestLocalDate_AddDaysRollsOver(t *testing.T) {
	d, err := ParseLocalDate("2025-12-31")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", d.AddDays(1).String())
	assert.Equal(t, time.Thursday, d.AddDays(1).Weekday())
}
