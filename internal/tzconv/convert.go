// Package tzconv converts wall-clock readings between IANA zones and UTC,
// with the clinic's Korea Standard Time as the fixed reference zone.
package tzconv

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// Embedded zoneinfo so conversions do not depend on the host image.
	_ "time/tzdata"
)

const KoreaZone = "Asia/Seoul"

const displayLayout = "2006-01-02 (Mon) 15:04 MST"

var (
	ErrUnknownZone          = errors.New("unknown timezone")
	ErrNonexistentLocalTime = errors.New("local time does not exist in timezone")
)

var (
	zoneCache sync.Map // string -> *time.Location
	kst       = mustLoad(KoreaZone)
)

// Display holds the same instant rendered for the patient and for the clinic.
type Display struct {
	User  string `json:"user_text"`
	Korea string `json:"korea_text"`
}

// KST returns the clinic's zone.
func KST() *time.Location {
	return kst
}

// LoadZone resolves an IANA zone id. Locations are cached, offsets never are.
func LoadZone(tz string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		return nil, fmt.Errorf("%w: empty zone id", ErrUnknownZone)
	}
	if loc, ok := zoneCache.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}
	zoneCache.Store(name, loc)
	return loc, nil
}

func mustLoad(tz string) *time.Location {
	loc, err := LoadZone(tz)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// ToUTC resolves a wall-clock reading in tz to an instant.
//
// A reading that occurs twice (autumn fall-back) resolves to the earlier
// instant. A reading skipped by a spring-forward gap is rejected with
// ErrNonexistentLocalTime.
func ToUTC(local LocalDateTime, tz string) (time.Time, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return time.Time{}, err
	}
	return ResolveIn(local, loc)
}

// ResolveIn is ToUTC for an already loaded location.
func ResolveIn(local LocalDateTime, loc *time.Location) (time.Time, error) {
	naive := local.In(time.UTC)

	var (
		best  time.Time
		found bool
	)
	// Offsets in effect two days either side cover both sides of any single transition.
	for _, sample := range []time.Time{naive.Add(-48 * time.Hour), naive, naive.Add(48 * time.Hour)} {
		_, offset := sample.In(loc).Zone()
		candidate := naive.Add(-time.Duration(offset) * time.Second)
		if DateTimeOf(candidate.In(loc)) != local {
			continue
		}
		if !found || candidate.Before(best) {
			best = candidate
			found = true
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: %s in %s", ErrNonexistentLocalTime, local, loc)
	}
	return best.UTC(), nil
}

// ToZone reads the wall clock of utc in tz, truncated to the minute.
func ToZone(utc time.Time, tz string) (LocalDateTime, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return LocalDateTime{}, err
	}
	return DateTimeOf(utc.In(loc)), nil
}

// ToKST reads the clinic wall clock for utc.
func ToKST(utc time.Time) LocalDateTime {
	return DateTimeOf(utc.In(kst))
}

// StartOfDay returns the first instant of date in loc. Zones that skip
// midnight start the day at the first existing minute.
func StartOfDay(date LocalDate, loc *time.Location) time.Time {
	t := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	if DateOf(t) != date {
		// midnight fell in a gap and was normalized into the previous day
		t = time.Date(date.Year, date.Month, date.Day, 1, 0, 0, 0, loc)
	}
	return t.UTC()
}

// DaySpan returns the half-open UTC interval covered by date in loc. It is
// 23 or 25 hours long on DST transition days.
func DaySpan(date LocalDate, loc *time.Location) (start, end time.Time) {
	return StartOfDay(date, loc), StartOfDay(date.AddDays(1), loc)
}

// DisplayPair renders utc for the user's zone and for KST with zone abbreviations.
func DisplayPair(utc time.Time, userTz string) (Display, error) {
	loc, err := LoadZone(userTz)
	if err != nil {
		return Display{}, err
	}
	return Display{
		User:  utc.In(loc).Format(displayLayout),
		Korea: utc.In(kst).Format(displayLayout),
	}, nil
}
